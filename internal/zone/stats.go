package zone

import "time"

// noSamples is the sentinel average-speed value meaning "no samples
// yet".
const noSamples = -1

// ClassStats holds the finalized per-class figures for one rollup
// window.
type ClassStats struct {
	AvgSpeedKmh float64 `json:"avg_speed_kmh"`
	Count       int     `json:"count"`
}

// Stats is a zone's finalized window statistics.
type Stats struct {
	PeriodStart   time.Time             `json:"period_start"`
	PeriodEnd     time.Time             `json:"period_end"`
	PerClass      map[string]ClassStats `json:"per_class"`
	TotalCount    int                   `json:"total_count"`
	TotalAvgSpeed float64               `json:"total_avg_speed_kmh"`
	AvgHeadwaySec float64               `json:"avg_headway_seconds"`
}

// classAccumulator is the live, not-yet-finalized running mean for one
// class within a zone.
type classAccumulator struct {
	meanSpeed float64
	n         int
}

// observe folds one sample into the running mean: mu <- mu*(n-1)/n +
// x/n, with mu initialized to the first sample rather than -1.
func (a *classAccumulator) observe(x float64) {
	a.n++
	if a.n == 1 {
		a.meanSpeed = x
		return
	}
	n := float64(a.n)
	a.meanSpeed = a.meanSpeed*(n-1)/n + x/n
}

func (a *classAccumulator) snapshot() ClassStats {
	if a.n == 0 {
		return ClassStats{AvgSpeedKmh: noSamples, Count: 0}
	}
	return ClassStats{AvgSpeedKmh: a.meanSpeed, Count: a.n}
}

// headwayAccumulator tracks the running mean of seconds between
// successive virtual-line crossings within the current window.
type headwayAccumulator struct {
	last    *time.Time
	mean    float64
	samples int
}

func (h *headwayAccumulator) record(t time.Time) {
	if h.last != nil {
		gap := t.Sub(*h.last).Seconds()
		h.samples++
		n := float64(h.samples)
		if h.samples == 1 {
			h.mean = gap
		} else {
			h.mean = h.mean*(n-1)/n + gap/n
		}
	}
	last := t
	h.last = &last
}

func (h *headwayAccumulator) snapshot() float64 {
	if h.samples == 0 {
		return noSamples
	}
	return h.mean
}
