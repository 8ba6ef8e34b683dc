package util

import (
	"testing"
	"time"
)

func TestRandomDuration(t *testing.T) {
	min := 3 * time.Minute
	max := 6 * time.Minute
	for i := 0; i < 100; i++ {
		d := RandomDuration(min, max)
		if d < min || d > max {
			t.Fatalf("duration %v outside [%v, %v]", d, min, max)
		}
	}

	if got := RandomDuration(max, min); got != max {
		t.Errorf("expected min returned when max <= min, got %v", got)
	}
}

func TestShuffleKeepsElements(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	Shuffle(items)
	seen := make(map[int]bool)
	for _, v := range items {
		seen[v] = true
	}
	for i := 1; i <= 5; i++ {
		if !seen[i] {
			t.Errorf("element %d lost during shuffle", i)
		}
	}
}
