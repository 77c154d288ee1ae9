package poller

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"solarwatch/internal/anomaly/application"
	anomaly "solarwatch/internal/anomaly/domain"
	"solarwatch/internal/anomaly/ledger"
	"solarwatch/internal/anomaly/notify"
	"solarwatch/internal/observability/metrics"
	telemetry "solarwatch/internal/telemetry/domain"
)

// Source fetches raw vendor timeseries for one entity.
type Source interface {
	FetchGenerationPower(ctx context.Context, entityID string, from, to time.Time) ([]telemetry.RawEntry, error)
}

// Archive persists fetched series for later reporting. Optional.
type Archive interface {
	SaveSeries(ctx context.Context, device telemetry.Device, series telemetry.Series) error
}

// Poller runs the fetch-evaluate-dispatch cycle for the whole fleet.
// Fetches run concurrently with a bounded limit; everything after the
// fetch phase is single-threaded so ledger access needs no locking.
type Poller struct {
	cfg      Config
	source   Source
	store    ledger.Store
	archive  Archive
	ledger   *ledger.Ledger
	services map[string]*application.Service
	clock    application.Clock
	logger   *log.Logger
	listener application.ActionListener
}

// Option configures the poller.
type Option func(*Poller)

// WithStore assigns the ledger persistence store.
func WithStore(store ledger.Store) Option {
	return func(p *Poller) { p.store = store }
}

// WithArchive assigns the readings archive.
func WithArchive(archive Archive) Option {
	return func(p *Poller) { p.archive = archive }
}

// WithClock assigns a clock.
func WithClock(clock application.Clock) Option {
	return func(p *Poller) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *log.Logger) Option {
	return func(p *Poller) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithListener assigns a dispatch action listener.
func WithListener(listener application.ActionListener) Option {
	return func(p *Poller) { p.listener = listener }
}

// NewPoller constructs a poller. Each plant gets its own dispatch service
// with plant-level thresholds; all services share one ledger and channel.
func NewPoller(cfg Config, source Source, channel notify.Channel, opts ...Option) (*Poller, error) {
	if source == nil {
		return nil, errors.New("poller: nil source")
	}
	if channel == nil {
		return nil, errors.New("poller: nil channel")
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}

	p := &Poller{
		cfg:    cfg,
		source: source,
		ledger: ledger.New(),
		clock:  systemClock{},
		logger: log.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}

	window := application.DeliveryWindow{
		StartHour: cfg.DeliveryWindow.StartHour,
		EndHour:   cfg.DeliveryWindow.EndHour,
		Zone:      telemetry.VendorZone(),
	}
	p.services = make(map[string]*application.Service, len(cfg.Plants))
	for _, plant := range cfg.Plants {
		detector := anomaly.NewDetector(cfg.ThresholdsForPlant(plant.Name))
		serviceOpts := []application.ServiceOption{
			application.WithDeliveryWindow(window),
			application.WithClock(p.clock),
			application.WithLogger(p.logger),
		}
		if p.listener != nil {
			serviceOpts = append(serviceOpts, application.WithListener(p.listener))
		}
		service, err := application.NewService(detector, p.ledger, channel, serviceOpts...)
		if err != nil {
			return nil, err
		}
		p.services[plant.Name] = service
	}
	return p, nil
}

// Ledger exposes the shared issue ledger, e.g. for the issues API.
func (p *Poller) Ledger() *ledger.Ledger { return p.ledger }

// RunCycle executes one full poll cycle: load ledger, fetch all devices
// concurrently, evaluate and dispatch deterministically, sweep, save.
// Fetch failures isolate to their device; the cycle itself fails only on
// ledger persistence errors.
func (p *Poller) RunCycle(ctx context.Context) error {
	start := time.Now()
	now := p.clock.Now()

	// A load failure falls back to in-memory state rather than blocking
	// the cycle; worst case is one repeated notification.
	if err := p.ledger.LoadFrom(ctx, p.store); err != nil {
		p.logger.Printf("ledger load error: %v", err)
	}

	results := p.fetchAll(ctx, now)
	p.evaluate(ctx, results, now)

	p.ledger.Sweep(now)
	metrics.SetLedgerSize(p.ledger.Len())

	result := metrics.ResultSuccess
	var saveErr error
	if err := p.ledger.SaveTo(ctx, p.store); err != nil {
		p.logger.Printf("ledger save error: %v", err)
		result = metrics.ResultError
		saveErr = err
	}
	metrics.ObservePollCycle(result, time.Since(start))
	return saveErr
}

// fetchAll fetches today's series for every configured device with bounded
// concurrency. Devices whose fetch fails are absent from the result map.
func (p *Poller) fetchAll(ctx context.Context, now time.Time) map[telemetry.DeviceKey]telemetry.Series {
	zone := telemetry.VendorZone()
	local := now.In(zone)
	from := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, zone)
	to := from.AddDate(0, 0, 1)

	var mu sync.Mutex
	results := make(map[telemetry.DeviceKey]telemetry.Series, p.cfg.DeviceCount())

	var group errgroup.Group
	group.SetLimit(p.cfg.FetchConcurrency)
	for _, plant := range p.cfg.Plants {
		for _, device := range plant.Devices {
			device := device
			group.Go(func() error {
				raw, err := p.source.FetchGenerationPower(ctx, device.EntityID, from, to)
				if err != nil {
					p.logger.Printf("fetch error: plant=%s serial=%s err=%v", device.Plant, device.Serial, err)
					metrics.IncFetchError(device.Plant)
					return nil
				}
				series := telemetry.Ingest(raw, zone)
				mu.Lock()
				results[device.Key()] = series
				mu.Unlock()
				return nil
			})
		}
	}
	_ = group.Wait()
	return results
}

// evaluate runs device and plant rules in config order so dispatch and
// ledger mutation order is stable across cycles.
func (p *Poller) evaluate(ctx context.Context, results map[telemetry.DeviceKey]telemetry.Series, now time.Time) {
	for _, plant := range p.cfg.Plants {
		service := p.services[plant.Name]
		plantSeries := make(map[string]telemetry.Series, len(plant.Devices))
		for _, device := range plant.Devices {
			series, ok := results[device.Key()]
			if !ok {
				continue
			}
			if p.archive != nil {
				if err := p.archive.SaveSeries(ctx, device, series); err != nil {
					p.logger.Printf("archive error: plant=%s serial=%s err=%v", device.Plant, device.Serial, err)
				}
			}
			service.ProcessDevice(ctx, series, device, now)
			plantSeries[device.Serial] = series
		}
		service.ProcessPlant(ctx, plant.Name, plantSeries, now)
	}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
