package telemetry

import (
	"sort"
	"strconv"
	"time"
)

// ContinuityGap is the maximum delta between consecutive present samples
// before the series is considered discontinuous at that point.
const ContinuityGap = 15 * time.Minute

// Sample is a single power reading for one device.
// Value is nil when the vendor reported no data for the slot.
type Sample struct {
	Epoch int64      `json:"epoch"`
	At    time.Time  `json:"at"`
	Value *float64   `json:"value,omitempty"`
	Units string     `json:"units,omitempty"`
}

// Present reports whether the sample carries a value.
func (s Sample) Present() bool { return s.Value != nil }

// Series is a time-ordered sequence of samples for one device.
type Series []Sample

// RawEntry is a decoded vendor timeseries entry. Value is kept loosely
// typed because the vendor emits numbers, empty strings or nothing at all.
type RawEntry struct {
	Start int64  `json:"start"`
	Value any    `json:"value,omitempty"`
	Units string `json:"units,omitempty"`
}

// Ingest builds a well-formed Series from raw vendor entries: entries
// without an epoch are dropped, values are coerced through numeric parsing
// (failure means missing, not zero), duplicate epochs resolve last write
// wins, samples are sorted ascending and gap-splitting is applied. An empty
// input yields an empty Series.
func Ingest(entries []RawEntry, loc *time.Location) Series {
	if loc == nil {
		loc = VendorZone()
	}
	byEpoch := make(map[int64]Sample, len(entries))
	for _, entry := range entries {
		if entry.Start == 0 {
			continue
		}
		byEpoch[entry.Start] = Sample{
			Epoch: entry.Start,
			At:    time.Unix(entry.Start, 0).In(loc),
			Value: coerceValue(entry.Value),
			Units: entry.Units,
		}
	}
	if len(byEpoch) == 0 {
		return nil
	}
	series := make(Series, 0, len(byEpoch))
	for _, sample := range byEpoch {
		series = append(series, sample)
	}
	sort.Slice(series, func(i, j int) bool { return series[i].Epoch < series[j].Epoch })
	series.splitGaps()
	return series
}

// splitGaps nulls the value of any present sample whose delta to the
// previous present sample exceeds ContinuityGap. The timestamp stays so the
// row still marks the slot; only continuity is broken. Deltas are measured
// on the input's present samples, before any nulling.
func (s Series) splitGaps() {
	prev := int64(0)
	for i := range s {
		if !s[i].Present() {
			continue
		}
		epoch := s[i].Epoch
		if prev != 0 && epoch-prev > int64(ContinuityGap/time.Second) {
			s[i].Value = nil
		}
		prev = epoch
	}
}

// LastPresent returns the most recent sample carrying a value.
func (s Series) LastPresent() (Sample, bool) {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i].Present() {
			return s[i], true
		}
	}
	return Sample{}, false
}

// PresentSamples returns the samples carrying values, oldest first.
func (s Series) PresentSamples() []Sample {
	var present []Sample
	for _, sample := range s {
		if sample.Present() {
			present = append(present, sample)
		}
	}
	return present
}

// ValueAt returns the value recorded at the exact epoch, if present.
func (s Series) ValueAt(epoch int64) (float64, bool) {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i].Epoch == epoch {
			if !s[i].Present() {
				return 0, false
			}
			return *s[i].Value, true
		}
	}
	return 0, false
}

// HasPresent reports whether any sample carries a value.
func (s Series) HasPresent() bool {
	_, ok := s.LastPresent()
	return ok
}

func coerceValue(raw any) *float64 {
	switch v := raw.(type) {
	case float64:
		return &v
	case int64:
		f := float64(v)
		return &f
	case int:
		f := float64(v)
		return &f
	case string:
		if v == "" {
			return nil
		}
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil
		}
		return &parsed
	default:
		return nil
	}
}

// VendorZone is the fixed reporting zone for all plants (UTC+7).
func VendorZone() *time.Location {
	loc, err := time.LoadLocation("Asia/Bangkok")
	if err != nil {
		return time.FixedZone("UTC+7", 7*60*60)
	}
	return loc
}
