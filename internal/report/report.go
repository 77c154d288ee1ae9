package report

import (
	"context"
	"errors"
	"sort"
	"time"

	"solarwatch/internal/anomaly/ledger"
	telemetry "solarwatch/internal/telemetry/domain"
)

// SeriesLister loads archived samples for one device in an epoch window.
type SeriesLister interface {
	ListSeries(ctx context.Context, key telemetry.DeviceKey, fromEpoch, toEpoch int64) (telemetry.Series, error)
}

// DeviceSnapshot is one device's latest state for the daily report.
type DeviceSnapshot struct {
	Plant      string
	Serial     string
	LastUpdate time.Time
	PowerWatts *float64
}

// DailyReport is the rendered-report input: latest readings for every
// configured device plus the currently active issues.
type DailyReport struct {
	GeneratedAt time.Time
	Devices     []DeviceSnapshot
	Issues      []ledger.Entry
}

// Builder assembles daily reports from the readings archive and the issue
// ledger. A nil lister yields snapshots without readings, so reports stay
// available when no archive database is configured.
type Builder struct {
	devices []telemetry.Device
	lister  SeriesLister
	ledger  *ledger.Ledger
}

// NewBuilder constructs a report builder.
func NewBuilder(devices []telemetry.Device, lister SeriesLister, issueLedger *ledger.Ledger) (*Builder, error) {
	if len(devices) == 0 {
		return nil, errors.New("report builder: no devices")
	}
	if issueLedger == nil {
		return nil, errors.New("report builder: nil ledger")
	}
	return &Builder{devices: devices, lister: lister, ledger: issueLedger}, nil
}

// Build assembles the report for the local day containing now. Archive
// errors degrade the affected device to a no-reading row instead of
// failing the whole report.
func (b *Builder) Build(ctx context.Context, now time.Time) (DailyReport, error) {
	zone := telemetry.VendorZone()
	local := now.In(zone)
	from := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, zone)
	to := from.AddDate(0, 0, 1)

	rpt := DailyReport{
		GeneratedAt: local,
		Devices:     make([]DeviceSnapshot, 0, len(b.devices)),
		Issues:      b.ledger.Entries(),
	}
	for _, device := range b.devices {
		snapshot := DeviceSnapshot{Plant: device.Plant, Serial: device.Serial}
		if b.lister != nil {
			series, err := b.lister.ListSeries(ctx, device.Key(), from.Unix(), to.Unix())
			if err == nil {
				if last, ok := series.LastPresent(); ok {
					snapshot.LastUpdate = last.At
					snapshot.PowerWatts = last.Value
				}
			}
		}
		rpt.Devices = append(rpt.Devices, snapshot)
	}
	sort.Slice(rpt.Devices, func(i, j int) bool {
		if rpt.Devices[i].Plant != rpt.Devices[j].Plant {
			return rpt.Devices[i].Plant < rpt.Devices[j].Plant
		}
		return rpt.Devices[i].Serial < rpt.Devices[j].Serial
	})
	return rpt, nil
}
