package sun

import (
	"sync"
	"time"

	"github.com/nathan-osman/go-sunrise"
)

// Times holds the sun event times for a single day.
type Times struct {
	Sunrise time.Time
	Sunset  time.Time
}

// Calculator computes sunrise/sunset for a fixed location.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Calculator struct {
	latitude  float64
	longitude float64

	mu    sync.Mutex
	cache map[string]Times // keyed by YYYY-MM-DD (UTC)
}

// NewCalculator creates a Calculator for the given coordinates.
func NewCalculator(latitude, longitude float64) *Calculator {
	return &Calculator{
		latitude:  latitude,
		longitude: longitude,
		cache:     make(map[string]Times),
	}
}

// TimesFor returns the sun event times for the day containing t (UTC).
func (c *Calculator) TimesFor(t time.Time) Times {
	day := t.UTC()
	key := day.Format("2006-01-02")

	c.mu.Lock()
	defer c.mu.Unlock()

	if cached, ok := c.cache[key]; ok {
		return cached
	}

	rise, set := sunrise.SunriseSunset(
		c.latitude, c.longitude,
		day.Year(), day.Month(), day.Day(),
	)

	times := Times{Sunrise: rise, Sunset: set}
	c.cache[key] = times

	// Keep the cache from growing without bound on long uptimes.
	if len(c.cache) > maxCachedDays {
		for k := range c.cache {
			if k != key {
				delete(c.cache, k)
			}
		}
	}

	return times
}

// maxCachedDays bounds the per-day cache.
const maxCachedDays = 7

// Events returns the sun events for the day containing t as a map,
// in the shape consumed by sun triggers and conditions.
func (c *Calculator) Events(t time.Time) map[string]time.Time {
	times := c.TimesFor(t)
	return map[string]time.Time{
		"sunrise": times.Sunrise,
		"sunset":  times.Sunset,
	}
}
