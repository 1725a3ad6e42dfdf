// Package sun computes sunrise and sunset times for the configured site.
//
// The calculator caches results per calendar day, so repeated lookups from
// the engine tick loop cost a single map read. Times are returned in UTC;
// callers compare them against UTC clocks.
package sun
