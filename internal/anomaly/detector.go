package anomaly

import (
	"fmt"
)

// Detector flags implausible rate changes with a configurable threshold
type Detector struct {
	spikeThreshold float64
}

// NewDetector creates a new anomaly detector with the specified threshold
func NewDetector(spikeThreshold float64) *Detector {
	return &Detector{
		spikeThreshold: spikeThreshold,
	}
}

// DetectRateAnomaly checks a newly scraped rate against the stored one
func (d *Detector) DetectRateAnomaly(rate float64, previous *float64) (bool, string) {
	if rate <= 0 {
		return true, "non-positive rate"
	}

	// Nothing to compare against
	if previous == nil || *previous <= 0 || d.spikeThreshold <= 0 {
		return false, ""
	}

	if rate > d.spikeThreshold*(*previous) {
		return true, fmt.Sprintf("sudden spike detected: rate %.4f exceeds %.1fx previous rate %.4f",
			rate, d.spikeThreshold, *previous)
	}
	if rate*d.spikeThreshold < *previous {
		return true, fmt.Sprintf("sudden drop detected: rate %.4f is below 1/%.1f of previous rate %.4f",
			rate, d.spikeThreshold, *previous)
	}

	return false, ""
}
