package application

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	anomaly "solarwatch/internal/anomaly/domain"
	"solarwatch/internal/anomaly/ledger"
	telemetry "solarwatch/internal/telemetry/domain"
)

// 12:00 in Asia/Bangkok, inside the default delivery window.
var testNow = time.Date(2024, 3, 1, 5, 0, 0, 0, time.UTC)

// 22:00 in Asia/Bangkok, outside the default delivery window.
var testNight = time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type recordingChannel struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (c *recordingChannel) Send(_ context.Context, content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, content)
	return c.err
}

func (c *recordingChannel) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

type recordingListener struct {
	actions []Action
}

func (l *recordingListener) Notify(_ context.Context, action Action) {
	l.actions = append(l.actions, action)
}

func newTestService(t *testing.T, channel *recordingChannel, opts ...ServiceOption) *Service {
	t.Helper()
	base := []ServiceOption{
		WithClock(&fakeClock{now: testNow}),
		WithLogger(log.New(testWriter{t}, "", 0)),
	}
	service, err := NewService(anomaly.NewDetector(anomaly.Thresholds{}), ledger.New(), channel, append(base, opts...)...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return service
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

func wattsPtr(v float64) *float64 { return &v }

func staleSeries(now time.Time) telemetry.Series {
	at := now.Add(-45 * time.Minute)
	return telemetry.Series{{Epoch: at.Unix(), At: at, Value: wattsPtr(42000), Units: "W"}}
}

func healthySeries(now time.Time) telemetry.Series {
	series := make(telemetry.Series, 0, 4)
	for i := 3; i >= 0; i-- {
		at := now.Add(-time.Duration(i)*15*time.Minute - 10*time.Minute)
		series = append(series, telemetry.Sample{Epoch: at.Unix(), At: at, Value: wattsPtr(60000), Units: "W"})
	}
	return series
}

func testDevice() telemetry.Device {
	return telemetry.Device{Serial: "INV-01", Plant: "plant-a", EntityID: "1001"}
}

func findAction(t *testing.T, actions []Action, kind anomaly.IssueKind) Action {
	t.Helper()
	for _, action := range actions {
		if action.Key.Kind == kind {
			return action
		}
	}
	t.Fatalf("no action for kind %s in %v", kind, actions)
	return Action{}
}

func TestProcessDeviceSendsAndSuppresses(t *testing.T) {
	channel := &recordingChannel{}
	service := newTestService(t, channel)
	device := testDevice()
	series := staleSeries(testNow)

	actions := service.ProcessDevice(context.Background(), series, device, testNow)
	if got := findAction(t, actions, anomaly.KindOutdated); got.Result != ActionSent {
		t.Fatalf("first cycle result = %s, want %s", got.Result, ActionSent)
	}
	if sent := channel.messages(); len(sent) != 1 || !strings.Contains(sent[0], "INV-01 outdated") {
		t.Fatalf("unexpected delivery %v", sent)
	}
	if _, ok := service.Ledger().Get(anomaly.IssueKey{Plant: "plant-a", Scope: "INV-01", Kind: anomaly.KindOutdated}); !ok {
		t.Fatal("sent alert not recorded in ledger")
	}

	// Same condition five minutes later: inside the suppression window
	// with unchanged details, nothing goes out.
	later := testNow.Add(5 * time.Minute)
	actions = service.ProcessDevice(context.Background(), series, device, later)
	if got := findAction(t, actions, anomaly.KindOutdated); got.Result != ActionSuppressed {
		t.Fatalf("repeat cycle result = %s, want %s", got.Result, ActionSuppressed)
	}
	if sent := channel.messages(); len(sent) != 1 {
		t.Fatalf("suppressed repeat still delivered: %v", sent)
	}
}

func TestProcessDeviceResolution(t *testing.T) {
	channel := &recordingChannel{}
	service := newTestService(t, channel)
	device := testDevice()

	service.ProcessDevice(context.Background(), staleSeries(testNow), device, testNow)
	if len(channel.messages()) != 1 {
		t.Fatalf("expected one alert, got %v", channel.messages())
	}

	// The device reports again: outdated clears with a resolution message
	// and the ledger entry is gone.
	later := testNow.Add(20 * time.Minute)
	actions := service.ProcessDevice(context.Background(), healthySeries(later), device, later)
	if got := findAction(t, actions, anomaly.KindOutdated); got.Result != ActionResolved {
		t.Fatalf("resolution result = %s, want %s", got.Result, ActionResolved)
	}
	sent := channel.messages()
	if len(sent) != 2 || !strings.Contains(sent[1], "up-to-date") {
		t.Fatalf("unexpected deliveries %v", sent)
	}
	if _, ok := service.Ledger().Get(anomaly.IssueKey{Plant: "plant-a", Scope: "INV-01", Kind: anomaly.KindOutdated}); ok {
		t.Fatal("resolved entry still in ledger")
	}
}

func TestProcessDeviceNoOpWithoutPriorAlert(t *testing.T) {
	channel := &recordingChannel{}
	service := newTestService(t, channel)

	actions := service.ProcessDevice(context.Background(), healthySeries(testNow), testDevice(), testNow)
	for _, action := range actions {
		if action.Result != ActionNoOp {
			t.Fatalf("healthy device with empty ledger produced %s for %s", action.Result, action.Key)
		}
	}
	if len(channel.messages()) != 0 {
		t.Fatalf("unexpected deliveries %v", channel.messages())
	}
}

func TestOutsideWindowRecordsWithoutSending(t *testing.T) {
	channel := &recordingChannel{}
	service := newTestService(t, channel, WithClock(&fakeClock{now: testNight}))
	device := testDevice()

	actions := service.ProcessDevice(context.Background(), staleSeries(testNight), device, testNight)
	if got := findAction(t, actions, anomaly.KindOutdated); got.Result != ActionSuppressed {
		t.Fatalf("night cycle result = %s, want %s", got.Result, ActionSuppressed)
	}
	if len(channel.messages()) != 0 {
		t.Fatalf("delivery outside window: %v", channel.messages())
	}
	// Bookkeeping still ran so the suppression window applies once the
	// window opens.
	if _, ok := service.Ledger().Get(anomaly.IssueKey{Plant: "plant-a", Scope: "INV-01", Kind: anomaly.KindOutdated}); !ok {
		t.Fatal("night alert not recorded in ledger")
	}
}

func TestResolutionDeliveredOutsideWindow(t *testing.T) {
	channel := &recordingChannel{}
	service := newTestService(t, channel)
	device := testDevice()
	key := anomaly.IssueKey{Plant: "plant-a", Scope: "INV-01", Kind: anomaly.KindOutdated}
	service.Ledger().Record(key, "last_update:2024-03-01 10:00", "msg", testNow)

	actions := service.ProcessDevice(context.Background(), healthySeries(testNight), device, testNight)
	if got := findAction(t, actions, anomaly.KindOutdated); got.Result != ActionResolved {
		t.Fatalf("night resolution result = %s, want %s", got.Result, ActionResolved)
	}
	sent := channel.messages()
	if len(sent) != 1 || !strings.Contains(sent[0], "up-to-date") {
		t.Fatalf("resolution not delivered outside window: %v", sent)
	}
}

func TestSendFailureStillRecords(t *testing.T) {
	channel := &recordingChannel{err: errors.New("telegram down")}
	service := newTestService(t, channel)
	device := testDevice()

	actions := service.ProcessDevice(context.Background(), staleSeries(testNow), device, testNow)
	if got := findAction(t, actions, anomaly.KindOutdated); got.Result != ActionSent {
		t.Fatalf("failed send result = %s, want %s", got.Result, ActionSent)
	}
	if _, ok := service.Ledger().Get(anomaly.IssueKey{Plant: "plant-a", Scope: "INV-01", Kind: anomaly.KindOutdated}); !ok {
		t.Fatal("failed send not recorded; next cycle would double-alert")
	}
}

func TestProcessPlantDispatch(t *testing.T) {
	channel := &recordingChannel{}
	service := newTestService(t, channel)
	at := testNow.Add(-10 * time.Minute)
	plantSeries := map[string]telemetry.Series{
		"INV-01": {{Epoch: at.Unix(), At: at, Value: wattsPtr(80000), Units: "W"}},
		"INV-02": {{Epoch: at.Unix(), At: at, Value: wattsPtr(15000), Units: "W"}},
	}

	actions := service.ProcessPlant(context.Background(), "plant-a", plantSeries, testNow)
	got := findAction(t, actions, anomaly.KindUnderperforming)
	if got.Result != ActionSent || got.Key.Scope != "INV-02" {
		t.Fatalf("unexpected peer action %+v", got)
	}
	if sent := channel.messages(); len(sent) != 1 || !strings.Contains(sent[0], "underperforming with 15.00 kW") {
		t.Fatalf("unexpected delivery %v", sent)
	}
}

func TestListenerObservesDispatch(t *testing.T) {
	channel := &recordingChannel{}
	listener := &recordingListener{}
	service := newTestService(t, channel, WithListener(listener))
	device := testDevice()

	service.ProcessDevice(context.Background(), staleSeries(testNow), device, testNow)
	// Healthy device against an empty ledger: all no-ops, none forwarded.
	service.ProcessDevice(context.Background(), healthySeries(testNow), telemetry.Device{Serial: "INV-02", Plant: "plant-a", EntityID: "1002"}, testNow)

	if len(listener.actions) != 1 {
		t.Fatalf("listener actions = %v, want one sent action", listener.actions)
	}
	if listener.actions[0].Result != ActionSent {
		t.Fatalf("listener observed %s, want %s", listener.actions[0].Result, ActionSent)
	}
}

func TestSweepRemovesAgedEntries(t *testing.T) {
	channel := &recordingChannel{}
	service := newTestService(t, channel)
	old := anomaly.IssueKey{Plant: "plant-a", Scope: "INV-01", Kind: anomaly.KindOutdated}
	fresh := anomaly.IssueKey{Plant: "plant-a", Scope: "INV-02", Kind: anomaly.KindLowPower}
	service.Ledger().Record(old, "d", "m", testNow.Add(-time.Hour))
	service.Ledger().Record(fresh, "d", "m", testNow)

	if removed := service.Sweep(testNow); removed != 1 {
		t.Fatalf("sweep removed %d, want 1", removed)
	}
	if _, ok := service.Ledger().Get(fresh); !ok {
		t.Fatal("same-cycle entry swept")
	}
}

func TestDeliveryWindowBounds(t *testing.T) {
	window := DefaultDeliveryWindow()
	zone := telemetry.VendorZone()
	cases := []struct {
		hour int
		want bool
	}{
		{7, false},
		{8, true},
		{12, true},
		{16, true},
		{17, false},
	}
	for _, tc := range cases {
		at := time.Date(2024, 3, 1, tc.hour, 30, 0, 0, zone)
		if got := window.Contains(at); got != tc.want {
			t.Fatalf("Contains at %02d:30 = %v, want %v", tc.hour, got, tc.want)
		}
	}
}
