package sun

import (
	"testing"
	"time"
)

// London coordinates used across the tests.
const (
	testLat = 51.5074
	testLon = -0.1278
)

func TestTimesFor(t *testing.T) {
	calc := NewCalculator(testLat, testLon)

	day := time.Date(2026, 6, 21, 12, 0, 0, 0, time.UTC)
	times := calc.TimesFor(day)

	if times.Sunrise.IsZero() || times.Sunset.IsZero() {
		t.Fatal("expected non-zero sunrise and sunset")
	}

	if !times.Sunrise.Before(times.Sunset) {
		t.Errorf("sunrise %v should be before sunset %v", times.Sunrise, times.Sunset)
	}

	// Midsummer London: sunrise before 06:00 UTC, sunset after 18:00 UTC
	if times.Sunrise.Hour() >= 6 {
		t.Errorf("midsummer sunrise hour = %d, want < 6", times.Sunrise.Hour())
	}
	if times.Sunset.Hour() < 18 {
		t.Errorf("midsummer sunset hour = %d, want >= 18", times.Sunset.Hour())
	}
}

func TestTimesFor_Cached(t *testing.T) {
	calc := NewCalculator(testLat, testLon)

	day := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	first := calc.TimesFor(day)

	// Same day, different clock time: identical result from cache
	second := calc.TimesFor(day.Add(10 * time.Hour))

	if !first.Sunrise.Equal(second.Sunrise) || !first.Sunset.Equal(second.Sunset) {
		t.Error("expected identical cached times for the same day")
	}

	if len(calc.cache) != 1 {
		t.Errorf("cache size = %d, want 1", len(calc.cache))
	}
}

func TestTimesFor_CacheBounded(t *testing.T) {
	calc := NewCalculator(testLat, testLon)

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < maxCachedDays+5; i++ {
		calc.TimesFor(start.AddDate(0, 0, i))
	}

	if len(calc.cache) > maxCachedDays {
		t.Errorf("cache size = %d, want <= %d", len(calc.cache), maxCachedDays)
	}
}

func TestEvents(t *testing.T) {
	calc := NewCalculator(testLat, testLon)

	events := calc.Events(time.Date(2026, 9, 10, 12, 0, 0, 0, time.UTC))

	if _, ok := events["sunrise"]; !ok {
		t.Error("expected sunrise event")
	}
	if _, ok := events["sunset"]; !ok {
		t.Error("expected sunset event")
	}
}
