package orchestrator

import "time"

// BilledHours converts a stay duration to chargeable hours: any
// started hour counts in full, and even a near-zero stay bills one.
func BilledHours(d time.Duration) int64 {
	if d <= 0 {
		return 1
	}
	secs := int64(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	hours := secs / 3600
	if secs%3600 != 0 {
		hours++
	}
	if hours < 1 {
		hours = 1
	}
	return hours
}

// Fee prices a stay at rate per billed hour.
func Fee(d time.Duration, rate int64) int64 {
	return BilledHours(d) * rate
}
