package telemetry

import (
	"testing"
	"time"
)

func TestIngestEmptyInput(t *testing.T) {
	series := Ingest(nil, nil)
	if len(series) != 0 {
		t.Fatalf("expected empty series, got %d samples", len(series))
	}
	if series.HasPresent() {
		t.Fatal("empty series must not report present samples")
	}
}

func TestIngestCoercesAndSorts(t *testing.T) {
	entries := []RawEntry{
		{Start: 1800, Value: 42.5, Units: "W"},
		{Start: 900, Value: "100", Units: "W"},
		{Start: 2700, Value: ""},
		{Start: 3600, Value: "not-a-number"},
		{Start: 0, Value: 7.0},
	}
	series := Ingest(entries, time.UTC)
	if len(series) != 4 {
		t.Fatalf("expected 4 samples (no-epoch entry dropped), got %d", len(series))
	}
	if series[0].Epoch != 900 || series[3].Epoch != 3600 {
		t.Fatalf("expected ascending epochs, got %d..%d", series[0].Epoch, series[3].Epoch)
	}
	if series[0].Value == nil || *series[0].Value != 100 {
		t.Fatalf("expected string value coerced to 100, got %v", series[0].Value)
	}
	if series[2].Present() {
		t.Fatal("empty string value must be missing")
	}
	if series[3].Present() {
		t.Fatal("unparseable value must be missing, not zero")
	}
}

func TestIngestLastWriteWinsOnDuplicateEpoch(t *testing.T) {
	entries := []RawEntry{
		{Start: 900, Value: 10.0},
		{Start: 900, Value: 20.0},
	}
	series := Ingest(entries, time.UTC)
	if len(series) != 1 {
		t.Fatalf("expected 1 sample, got %d", len(series))
	}
	if series[0].Value == nil || *series[0].Value != 20 {
		t.Fatalf("expected last write to win, got %v", series[0].Value)
	}
}

func TestIngestGapSplitNullsLaterValue(t *testing.T) {
	entries := []RawEntry{
		{Start: 900, Value: 100.0},
		{Start: 1800, Value: 110.0},
		// 1h gap to the next present value.
		{Start: 5400, Value: 120.0},
		{Start: 6300, Value: 130.0},
	}
	series := Ingest(entries, time.UTC)
	if len(series) != 4 {
		t.Fatalf("expected 4 samples, got %d", len(series))
	}
	if series[2].Present() {
		t.Fatal("sample after gap must become missing")
	}
	if series[2].Epoch != 5400 {
		t.Fatalf("gap sample must keep its timestamp, got epoch %d", series[2].Epoch)
	}
	// The delta for the following sample is measured against the pre-null
	// timestamp, so continuity resumes.
	if !series[3].Present() {
		t.Fatal("sample following the break must stay present")
	}
}

func TestIngestGapSkipsMissingSlots(t *testing.T) {
	// A missing slot between two present values 30min apart still breaks
	// continuity: the delta between present values exceeds the gap.
	entries := []RawEntry{
		{Start: 900, Value: 100.0},
		{Start: 1800, Value: ""},
		{Start: 2700, Value: 120.0},
	}
	series := Ingest(entries, time.UTC)
	if series[2].Present() {
		t.Fatal("present value after >15min of missing data must be nulled")
	}
}

func TestLastPresentAndValueAt(t *testing.T) {
	entries := []RawEntry{
		{Start: 900, Value: 100.0},
		{Start: 1800, Value: 110.0},
		{Start: 2700, Value: ""},
	}
	series := Ingest(entries, time.UTC)
	last, ok := series.LastPresent()
	if !ok || last.Epoch != 1800 {
		t.Fatalf("expected last present at 1800, got %v ok=%v", last.Epoch, ok)
	}
	if v, ok := series.ValueAt(1800); !ok || v != 110 {
		t.Fatalf("expected value 110 at 1800, got %v ok=%v", v, ok)
	}
	if _, ok := series.ValueAt(2700); ok {
		t.Fatal("missing slot must not report a value")
	}
	if _, ok := series.ValueAt(4500); ok {
		t.Fatal("unknown epoch must not report a value")
	}
}

func TestDeviceValidate(t *testing.T) {
	device := Device{Serial: "INV-01", Plant: "plant-a", EntityID: "123"}
	if err := device.Validate(); err != nil {
		t.Fatalf("valid device rejected: %v", err)
	}
	if err := (Device{Plant: "plant-a", EntityID: "123"}).Validate(); err == nil {
		t.Fatal("expected error for empty serial")
	}
}
