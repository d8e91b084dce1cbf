package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStartOfWeek(t *testing.T) {
	// Wednesday Jan 8 2025 maps to Monday Jan 6
	wed := time.Date(2025, 1, 8, 15, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC), StartOfWeek(wed))

	// A Monday maps to itself at midnight
	mon := time.Date(2025, 1, 6, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC), StartOfWeek(mon))

	// Sunday belongs to the preceding Monday's week
	sun := time.Date(2025, 1, 12, 8, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC), StartOfWeek(sun))
}

func TestStartOfDay(t *testing.T) {
	ts := time.Date(2025, 3, 15, 18, 45, 12, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC), StartOfDay(ts))
}

func TestParseUint(t *testing.T) {
	assert.Equal(t, uint(42), ParseUint("42"))
	assert.Equal(t, uint(0), ParseUint("not-a-number"))
	assert.Equal(t, uint(0), ParseUint("-3"))
}
