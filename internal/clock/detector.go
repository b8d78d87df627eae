// Package clock flags samples whose current CPU clock sits below a fraction
// of the rated maximum, and raises an alert once that lasts long enough.
package clock

import "fmt"

const (
	// DefaultRatio is the clock/max fraction below which a sample is low.
	DefaultRatio = 0.8
	// DefaultMinStreak is how many low samples in a row raise the alert.
	DefaultMinStreak = 3
)

// Reading is the detector verdict for one sample.
type Reading struct {
	// Low is the instantaneous low-clock flag.
	Low bool
	// Streak counts consecutive low samples including this one.
	Streak int
	// Alert is set while Streak >= the configured minimum.
	Alert bool
}

// Detector is a debounced low-clock counter. Not safe for concurrent use.
type Detector struct {
	ratio     float64
	minStreak int
	streak    int
}

// NewDetector validates the thresholds and returns a Detector.
func NewDetector(ratio float64, minStreak int) (*Detector, error) {
	if ratio <= 0 || ratio > 1 {
		return nil, fmt.Errorf("low clock ratio must be in (0, 1], got %v", ratio)
	}
	if minStreak < 1 {
		return nil, fmt.Errorf("minimum streak must be >= 1, got %d", minStreak)
	}
	return &Detector{ratio: ratio, minStreak: minStreak}, nil
}

// Observe feeds one sample. A zero maxMHz means the clock is unknown and the
// sample counts as not low.
func (d *Detector) Observe(curMHz, maxMHz float64) Reading {
	if maxMHz > 0 && curMHz < maxMHz*d.ratio {
		d.streak++
	} else {
		d.streak = 0
	}
	return Reading{
		Low:    d.streak > 0,
		Streak: d.streak,
		Alert:  d.streak >= d.minStreak,
	}
}
