package anomaly

import (
	"fmt"
	"sort"
	"time"

	telemetry "solarwatch/internal/telemetry/domain"
)

// Thresholds parameterizes the rule evaluators. All power values are raw
// vendor watts; conversion to kilowatts happens only when formatting
// messages.
type Thresholds struct {
	StaleAfter         time.Duration `yaml:"stale_after"`
	PeerFloorWatts     float64       `yaml:"peer_floor_watts"`
	PeerRatio          float64       `yaml:"peer_ratio"`
	LowPowerFloorWatts float64       `yaml:"low_power_floor_watts"`
	DropHighFloorWatts float64       `yaml:"drop_high_floor_watts"`
	MinTrailingSamples int           `yaml:"min_trailing_samples"`
}

// DefaultThresholds returns the production defaults. The sampling cadence
// is 15 minutes, so 30 minutes of silence means two missed cycles.
func DefaultThresholds() Thresholds {
	return Thresholds{
		StaleAfter:         30 * time.Minute,
		PeerFloorWatts:     50000,
		PeerRatio:          0.25,
		LowPowerFloorWatts: 5000,
		DropHighFloorWatts: 50000,
		MinTrailingSamples: 4,
	}
}

// Merge overlays non-zero override fields onto the receiver.
func (t Thresholds) Merge(override Thresholds) Thresholds {
	if override.StaleAfter != 0 {
		t.StaleAfter = override.StaleAfter
	}
	if override.PeerFloorWatts != 0 {
		t.PeerFloorWatts = override.PeerFloorWatts
	}
	if override.PeerRatio != 0 {
		t.PeerRatio = override.PeerRatio
	}
	if override.LowPowerFloorWatts != 0 {
		t.LowPowerFloorWatts = override.LowPowerFloorWatts
	}
	if override.DropHighFloorWatts != 0 {
		t.DropHighFloorWatts = override.DropHighFloorWatts
	}
	if override.MinTrailingSamples != 0 {
		t.MinTrailingSamples = override.MinTrailingSamples
	}
	return t
}

// Detector evaluates anomaly rules over device series.
type Detector struct {
	thresholds Thresholds
}

// NewDetector constructs a detector with the given thresholds; zero fields
// fall back to defaults.
func NewDetector(thresholds Thresholds) *Detector {
	return &Detector{thresholds: DefaultThresholds().Merge(thresholds)}
}

// Thresholds returns the effective thresholds.
func (d *Detector) Thresholds() Thresholds { return d.thresholds }

// EvaluateDevice runs the per-device rules over one well-formed series.
//
// A series with no value at all yields a single deactivated candidate.
// A stale series yields only the outdated candidate: trailing-power rules
// are skipped because recent silence already explains any low reading.
// A fresh series clears outdated and evaluates the trailing-power rules.
func (d *Detector) EvaluateDevice(series telemetry.Series, device telemetry.Device, now time.Time) []Outcome {
	if !series.HasPresent() {
		if len(series) == 0 {
			// No data fetched at all: abstain rather than declare the
			// device deactivated on an empty poll window.
			return nil
		}
		key := IssueKey{Plant: device.Plant, Scope: device.Serial, Kind: KindDeactivated}
		return []Outcome{{
			Key: key,
			Candidate: &Candidate{
				Details: "deactivated",
				Message: fmt.Sprintf("%s, inverter %s is deactivated.", device.Plant, device.Serial),
			},
		}}
	}

	last, _ := series.LastPresent()
	outdatedKey := IssueKey{Plant: device.Plant, Scope: device.Serial, Kind: KindOutdated}
	if now.Sub(last.At) > d.thresholds.StaleAfter {
		stamp := last.At.Format(timeLayout)
		return []Outcome{{
			Key: outdatedKey,
			Candidate: &Candidate{
				Details: "last_update:" + stamp,
				Message: fmt.Sprintf("%s, inverter %s outdated.\nLast update: %s", device.Plant, device.Serial, stamp),
			},
		}}
	}

	outcomes := []Outcome{{
		Key:        outdatedKey,
		Resolution: fmt.Sprintf("%s, inverter %s is now up-to-date.", device.Plant, device.Serial),
	}}
	outcomes = append(outcomes, d.evaluateTrailingPower(series, device)...)
	return outcomes
}

// evaluateTrailingPower checks sustained low power and single-step power
// drops over the trailing present samples. Below the minimum sample count
// the rule abstains entirely.
func (d *Detector) evaluateTrailingPower(series telemetry.Series, device telemetry.Device) []Outcome {
	present := series.PresentSamples()
	if len(present) < d.thresholds.MinTrailingSamples {
		return nil
	}

	lowKey := IssueKey{Plant: device.Plant, Scope: device.Serial, Kind: KindLowPower}
	dropKey := IssueKey{Plant: device.Plant, Scope: device.Serial, Kind: KindPowerDrop}

	last := present[len(present)-1]
	prev := present[len(present)-2]
	prev2 := present[len(present)-3]

	if *last.Value < d.thresholds.LowPowerFloorWatts {
		if *prev.Value < d.thresholds.LowPowerFloorWatts && *prev2.Value < d.thresholds.LowPowerFloorWatts {
			start := prev2.At.Format(timeLayout)
			end := last.At.Format(timeLayout)
			return []Outcome{{
				Key: lowKey,
				Candidate: &Candidate{
					Details: fmt.Sprintf("start:%s,end:%s,value:%g", start, end, *last.Value),
					Message: fmt.Sprintf("%s, inverter %s detects low power.\nFrom %s to %s", device.Plant, device.Serial, start, end),
				},
			}}
		}
		if *prev.Value > d.thresholds.DropHighFloorWatts {
			start := prev.At.Format(timeLayout)
			end := last.At.Format(timeLayout)
			return []Outcome{{
				Key: dropKey,
				Candidate: &Candidate{
					Details: fmt.Sprintf("start:%s,end:%s,from:%g,to:%g", start, end, *prev.Value, *last.Value),
					Message: fmt.Sprintf("%s, inverter %s detects high power drop.\nFrom %s to %s", device.Plant, device.Serial, start, end),
				},
			}}
		}
		// Low reading without three-in-a-row or a prior high: nothing
		// fires, nothing clears yet.
		return nil
	}

	recovered := func(cause string) string {
		return fmt.Sprintf("%s, inverter %s has recovered from %s. Current value: %s kW",
			device.Plant, device.Serial, cause, formatKW(*last.Value))
	}
	return []Outcome{
		{Key: lowKey, Resolution: recovered("low power")},
		{Key: dropKey, Resolution: recovered("power drop")},
	}
}

// EvaluatePlant compares devices of one plant at the most recent timestamp
// any of them reported. The highest reading is the reference and is never
// flagged against itself; below the comparison floor the whole rule
// abstains because near-dusk output is noise-dominated.
func (d *Detector) EvaluatePlant(plant string, plantSeries map[string]telemetry.Series) []Outcome {
	var refEpoch int64
	var refAt time.Time
	for _, series := range plantSeries {
		if last, ok := series.LastPresent(); ok && last.Epoch > refEpoch {
			refEpoch = last.Epoch
			refAt = last.At
		}
	}
	if refEpoch == 0 {
		return nil
	}

	type reading struct {
		serial string
		value  float64
	}
	var readings []reading
	for serial, series := range plantSeries {
		if value, ok := series.ValueAt(refEpoch); ok {
			readings = append(readings, reading{serial: serial, value: value})
		}
	}
	if len(readings) < 2 {
		return nil
	}
	sort.Slice(readings, func(i, j int) bool {
		if readings[i].value != readings[j].value {
			return readings[i].value > readings[j].value
		}
		return readings[i].serial < readings[j].serial
	})

	maxValue := readings[0].value
	if maxValue <= d.thresholds.PeerFloorWatts {
		return nil
	}

	stamp := refAt.Format(timeLayout)
	var outcomes []Outcome
	for _, r := range readings[1:] {
		key := IssueKey{Plant: plant, Scope: r.serial, Kind: KindUnderperforming}
		kw := formatKW(r.value)
		if r.value < maxValue*d.thresholds.PeerRatio {
			outcomes = append(outcomes, Outcome{
				Key: key,
				Candidate: &Candidate{
					Details: fmt.Sprintf("value:%s,time:%s", kw, stamp),
					Message: fmt.Sprintf("%s, inverter %s is underperforming with %s kW.\nTime: %s", plant, r.serial, kw, stamp),
				},
			})
			continue
		}
		outcomes = append(outcomes, Outcome{
			Key:        key,
			Resolution: fmt.Sprintf("%s, inverter %s is now performing normally at %s kW.", plant, r.serial, kw),
		})
	}
	return outcomes
}

const timeLayout = "2006-01-02 15:04"

func formatKW(watts float64) string {
	return fmt.Sprintf("%.2f", watts/1000)
}
