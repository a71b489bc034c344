package tracking

import (
	"sort"
)

// Associator is the frame-to-track matching contract shared by the three
// interchangeable strategies. Match returns, for each
// detection index that found a live track, the matched track's id.
// Detections with no entry in the result become new tracks.
type Associator interface {
	Match(detections []Detection, tracks []*TrackedObject) map[int]string
}

// sortedByID returns tracks ordered by ascending id, so equidistant
// candidates resolve deterministically to the lowest id.
func sortedByID(tracks []*TrackedObject) []*TrackedObject {
	out := make([]*TrackedObject, len(tracks))
	copy(out, tracks)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CentroidAssociator is the default strategy: nearest-centroid matching
// with an adaptive acceptance threshold.
type CentroidAssociator struct {
	// MinThresholdDistance is the floor of the acceptance distance;
	// the effective threshold is max(MinThresholdDistance, 0.5*diagonal).
	MinThresholdDistance float64
	// MaxNoMatch bounds how many track deltas PredictNextPosition
	// considers.
	MaxNoMatch int
}

func (a CentroidAssociator) Match(detections []Detection, tracks []*TrackedObject) map[int]string {
	candidates := sortedByID(tracks)
	used := make(map[string]bool, len(candidates))
	matches := make(map[int]string, len(detections))

	for di, det := range detections {
		c := det.Box.Center()
		threshold := a.MinThresholdDistance
		if half := 0.5 * det.Box.Diagonal(); half > threshold {
			threshold = half
		}

		var best *TrackedObject
		bestDist := threshold

		for _, tr := range candidates {
			if used[tr.ID] {
				continue
			}
			dCentroid := c.Distance(tr.Centroid())
			dPredicted := c.Distance(tr.PredictNextPosition(a.MaxNoMatch))
			d := dCentroid
			if dPredicted < d {
				d = dPredicted
			}
			if d <= bestDist {
				if best == nil || d < bestDist {
					best = tr
					bestDist = d
				}
			}
		}

		if best != nil {
			matches[di] = best.ID
			used[best.ID] = true
		}
	}

	return matches
}

// IoUAssociator matches detections to tracks by bounding-box IoU alone.
type IoUAssociator struct {
	Threshold float64
}

func (a IoUAssociator) Match(detections []Detection, tracks []*TrackedObject) map[int]string {
	candidates := sortedByID(tracks)
	used := make(map[string]bool, len(candidates))
	matches := make(map[int]string, len(detections))

	for di, det := range detections {
		var best *TrackedObject
		bestCost := 1 - a.Threshold

		for _, tr := range candidates {
			if used[tr.ID] {
				continue
			}
			cost := 1 - det.Box.IoU(tr.Box)
			if cost <= bestCost {
				if best == nil || cost < bestCost {
					best = tr
					bestCost = cost
				}
			}
		}

		if best != nil {
			matches[di] = best.ID
			used[best.ID] = true
		}
	}

	return matches
}

// TwoStageAssociator partitions detections by confidence into a
// high-confidence and a low-confidence band: high-confidence detections
// are matched first by IoU, then the remaining live tracks are tried
// against low-confidence detections, a rescue pass for objects whose
// box the detector is less sure of.
type TwoStageAssociator struct {
	High         float32
	Low          float32
	IoUThreshold float64
}

func (a TwoStageAssociator) Match(detections []Detection, tracks []*TrackedObject) map[int]string {
	var highIdx, lowIdx []int
	for i, det := range detections {
		switch {
		case det.Confidence >= a.High:
			highIdx = append(highIdx, i)
		case det.Confidence >= a.Low:
			lowIdx = append(lowIdx, i)
		}
	}

	matches := make(map[int]string, len(detections))
	used := matchStage(detections, highIdx, sortedByID(tracks), a.IoUThreshold, matches, nil)

	remaining := make([]*TrackedObject, 0, len(tracks))
	for _, tr := range tracks {
		if !used[tr.ID] {
			remaining = append(remaining, tr)
		}
	}
	matchStage(detections, lowIdx, sortedByID(remaining), a.IoUThreshold, matches, used)

	return matches
}

// matchStage runs one IoU-greedy matching pass over idx (detection
// indices) against candidates, recording accepted matches into matches
// and returning/extending the set of consumed track ids.
func matchStage(detections []Detection, idx []int, candidates []*TrackedObject, iouThreshold float64, matches map[int]string, used map[string]bool) map[string]bool {
	if used == nil {
		used = make(map[string]bool, len(candidates))
	}
	bestCostCap := 1 - iouThreshold

	for _, di := range idx {
		det := detections[di]
		var best *TrackedObject
		bestCost := bestCostCap

		for _, tr := range candidates {
			if used[tr.ID] {
				continue
			}
			cost := 1 - det.Box.IoU(tr.Box)
			if cost <= bestCost {
				if best == nil || cost < bestCost {
					best = tr
					bestCost = cost
				}
			}
		}

		if best != nil {
			matches[di] = best.ID
			used[best.ID] = true
		}
	}
	return used
}
