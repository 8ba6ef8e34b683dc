// Package util provides utility functions for the cohost application.
package util

import (
	"math/rand/v2"
	"time"
)

// RandomDuration returns a uniformly distributed duration in [min, max].
// If max <= min it returns min.
func RandomDuration(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int64N(int64(max-min)+1))
}

// Shuffle randomly permutes a slice in place.
func Shuffle[T any](items []T) {
	rand.Shuffle(len(items), func(i, j int) {
		items[i], items[j] = items[j], items[i]
	})
}
