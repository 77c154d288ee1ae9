package application

import (
	"context"
	"errors"
	"log"
	"time"

	anomaly "solarwatch/internal/anomaly/domain"
	"solarwatch/internal/anomaly/ledger"
	"solarwatch/internal/anomaly/notify"
	"solarwatch/internal/observability/metrics"
	telemetry "solarwatch/internal/telemetry/domain"
)

// ActionResult classifies a dispatch decision.
type ActionResult string

const (
	ActionSent       ActionResult = "sent"
	ActionSuppressed ActionResult = "suppressed"
	ActionResolved   ActionResult = "resolved"
	ActionNoOp       ActionResult = "noop"
)

// Action is the outcome of dispatching one issue key.
type Action struct {
	Key     anomaly.IssueKey `json:"key"`
	Result  ActionResult     `json:"result"`
	Message string           `json:"message,omitempty"`
}

// ActionListener observes dispatch actions, e.g. for an SSE stream.
type ActionListener interface {
	Notify(ctx context.Context, action Action)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// DeliveryWindow restricts when alert notifications are actually sent.
// Hours are inclusive, in the fleet's local zone. Resolution messages are
// exempt: they fire at most once per ledger entry and must not be lost.
type DeliveryWindow struct {
	StartHour int
	EndHour   int
	Zone      *time.Location
}

// Contains reports whether now falls inside the window.
func (w DeliveryWindow) Contains(now time.Time) bool {
	zone := w.Zone
	if zone == nil {
		zone = telemetry.VendorZone()
	}
	hour := now.In(zone).Hour()
	return hour >= w.StartHour && hour <= w.EndHour
}

// DefaultDeliveryWindow covers daylight operation, 08:00-16:00 inclusive.
func DefaultDeliveryWindow() DeliveryWindow {
	return DeliveryWindow{StartHour: 8, EndHour: 16, Zone: telemetry.VendorZone()}
}

// Service evaluates anomaly rules and dispatches deduplicated alerts.
// It is invoked single-threaded, once per device/plant per cycle, strictly
// after all fetches complete.
type Service struct {
	detector *anomaly.Detector
	ledger   *ledger.Ledger
	channel  notify.Channel
	listener ActionListener
	window   DeliveryWindow
	clock    Clock
	logger   *log.Logger
}

// ServiceOption customizes the service.
type ServiceOption func(*Service)

// WithClock assigns a clock.
func WithClock(clock Clock) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithDeliveryWindow assigns the alert delivery window.
func WithDeliveryWindow(window DeliveryWindow) ServiceOption {
	return func(s *Service) {
		s.window = window
	}
}

// WithListener assigns an action listener.
func WithListener(listener ActionListener) ServiceOption {
	return func(s *Service) {
		s.listener = listener
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *log.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService constructs a dispatch service.
func NewService(detector *anomaly.Detector, issueLedger *ledger.Ledger, channel notify.Channel, opts ...ServiceOption) (*Service, error) {
	if detector == nil {
		return nil, errors.New("anomaly service: nil detector")
	}
	if issueLedger == nil {
		return nil, errors.New("anomaly service: nil ledger")
	}
	if channel == nil {
		return nil, errors.New("anomaly service: nil channel")
	}
	service := &Service{
		detector: detector,
		ledger:   issueLedger,
		channel:  channel,
		window:   DefaultDeliveryWindow(),
		clock:    systemClock{},
		logger:   log.Default(),
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// Ledger exposes the service's ledger for lifecycle management and the API.
func (s *Service) Ledger() *ledger.Ledger { return s.ledger }

// ProcessDevice evaluates the per-device rules over one series and
// dispatches the outcomes. Evaluators abstain on insufficient data, so an
// empty series yields no actions.
func (s *Service) ProcessDevice(ctx context.Context, series telemetry.Series, device telemetry.Device, now time.Time) []Action {
	if s == nil {
		return nil
	}
	outcomes := s.detector.EvaluateDevice(series, device, now)
	return s.dispatchAll(ctx, outcomes, now)
}

// ProcessPlant evaluates the peer-comparison rule across all devices of
// one plant and dispatches the outcomes.
func (s *Service) ProcessPlant(ctx context.Context, plant string, plantSeries map[string]telemetry.Series, now time.Time) []Action {
	if s == nil {
		return nil
	}
	outcomes := s.detector.EvaluatePlant(plant, plantSeries)
	return s.dispatchAll(ctx, outcomes, now)
}

// Sweep ages out ledger entries past retention. Run once per cycle, after
// all evaluators, so same-cycle entries survive.
func (s *Service) Sweep(now time.Time) int {
	if s == nil {
		return 0
	}
	removed := s.ledger.Sweep(now)
	metrics.SetLedgerSize(s.ledger.Len())
	return removed
}

func (s *Service) dispatchAll(ctx context.Context, outcomes []anomaly.Outcome, now time.Time) []Action {
	if now.IsZero() {
		now = s.clock.Now()
	}
	actions := make([]Action, 0, len(outcomes))
	for _, outcome := range outcomes {
		actions = append(actions, s.dispatch(ctx, outcome, now))
	}
	metrics.SetLedgerSize(s.ledger.Len())
	return actions
}

// dispatch applies the dedup decision for one outcome. Ledger updates are
// per-key, so an interrupted cycle leaves other keys untouched.
func (s *Service) dispatch(ctx context.Context, outcome anomaly.Outcome, now time.Time) Action {
	action := s.decide(ctx, outcome, now)
	metrics.IncIssueEvent(string(outcome.Key.Kind), string(action.Result))
	if s.listener != nil && action.Result != ActionNoOp {
		s.listener.Notify(ctx, action)
	}
	return action
}

func (s *Service) decide(ctx context.Context, outcome anomaly.Outcome, now time.Time) Action {
	key := outcome.Key

	if outcome.Candidate == nil {
		if _, existed := s.ledger.Resolve(key); !existed {
			return Action{Key: key, Result: ActionNoOp}
		}
		if outcome.Resolution != "" {
			s.send(ctx, outcome.Resolution)
		}
		return Action{Key: key, Result: ActionResolved, Message: outcome.Resolution}
	}

	candidate := outcome.Candidate
	if !s.ledger.ShouldNotify(key, candidate.Details, now) {
		return Action{Key: key, Result: ActionSuppressed, Message: candidate.Message}
	}

	// Outside the delivery window the bookkeeping still runs so the
	// suppression window keeps its meaning, but nothing is delivered.
	if !s.window.Contains(now) {
		s.ledger.Record(key, candidate.Details, candidate.Message, now)
		return Action{Key: key, Result: ActionSuppressed, Message: candidate.Message}
	}

	// The attempt is what gets deduplicated, not the delivery success:
	// record before checking the send result.
	s.send(ctx, candidate.Message)
	s.ledger.Record(key, candidate.Details, candidate.Message, now)
	return Action{Key: key, Result: ActionSent, Message: candidate.Message}
}

func (s *Service) send(ctx context.Context, message string) {
	if err := s.channel.Send(ctx, message); err != nil {
		metrics.IncNotifySend(metrics.ResultError)
		s.logger.Printf("notification send error: %v", err)
		return
	}
	metrics.IncNotifySend(metrics.ResultSuccess)
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
