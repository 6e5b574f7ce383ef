// Package detect holds the Detection type and the filtering rules shared
// by the AI feeder and the orchestrator FSM: confidence/class filtering
// and stable-track eligibility for ingestion (spec.md §3).
package detect

import "strings"

// placeholderPrefix marks a tracker-assigned id as not-yet-stable.
const placeholderPrefix = "det-"

// BBox is a pixel-space bounding box.
type BBox struct {
	X, Y, W, H float64
}

// Detection is one object detector output for a single frame.
type Detection struct {
	TrackID string
	Class   string
	Conf    float32
	BBox    BBox
}

// IsStable reports whether d.TrackID is non-empty and not the tracker's
// placeholder prefix. Only stable tracks are eligible for ingestion.
func (d Detection) IsStable() bool {
	return d.TrackID != "" && !strings.HasPrefix(d.TrackID, placeholderPrefix)
}

// Filter is the configured relevance gate: class set membership plus a
// minimum confidence.
type Filter struct {
	Classes   map[string]struct{}
	Threshold float32
}

// NewFilter builds a Filter from a class list and confidence threshold.
func NewFilter(classes []string, threshold float32) Filter {
	set := make(map[string]struct{}, len(classes))
	for _, c := range classes {
		set[c] = struct{}{}
	}
	return Filter{Classes: set, Threshold: threshold}
}

// Passes reports whether d meets the confidence threshold and its class
// is in the configured filter ("relevant", per the glossary).
func (f Filter) Passes(d Detection) bool {
	if d.Conf < f.Threshold {
		return false
	}
	_, ok := f.Classes[d.Class]
	return ok
}

// Partition splits raw into the detections that pass f ("relevant") and,
// among those, the subset with a stable track id ("stable"). Both slices
// preserve input order.
func Partition(raw []Detection, f Filter) (relevant, stable []Detection) {
	for _, d := range raw {
		if !f.Passes(d) {
			continue
		}
		relevant = append(relevant, d)
		if d.IsStable() {
			stable = append(stable, d)
		}
	}
	return relevant, stable
}
