package task

import (
	"encoding/json"
	"testing"
)

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusPending, StatusFailed, true},
		{StatusPending, StatusCompleted, false},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusProcessing, StatusPending, false},
		{StatusCompleted, StatusFailed, false},
		{StatusCompleted, StatusProcessing, false},
		{StatusFailed, StatusPending, false},
		{StatusUnknown, StatusPending, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.ok {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.ok)
		}
	}
}

func TestTerminalStatuses(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusFailed} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
		if allowed := ValidTransitions[s]; len(allowed) != 0 {
			t.Errorf("%s should have no outgoing transitions, got %v", s, allowed)
		}
	}
	for _, s := range []Status{StatusUnknown, StatusPending, StatusProcessing} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestStatusJSONRoundTrip(t *testing.T) {
	data, err := json.Marshal(StatusProcessing)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `"processing"` {
		t.Fatalf("unexpected JSON: %s", data)
	}

	var s Status
	if err := json.Unmarshal(data, &s); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if s != StatusProcessing {
		t.Fatalf("round trip got %s", s)
	}
}

func TestParseStatusUnrecognized(t *testing.T) {
	for _, s := range []string{"bogus", "running", ""} {
		if ParseStatus(s) != StatusUnknown {
			t.Fatalf("%q should parse as unknown", s)
		}
	}
}

func TestKindClosedSet(t *testing.T) {
	for _, k := range []Kind{KindAcquire, KindFallbackMint, KindFinalizeMetadata} {
		if !k.Valid() {
			t.Errorf("%s should be valid", k)
		}
	}
	if Kind("reindex").Valid() {
		t.Error("arbitrary kind should be invalid")
	}
	if !KindAcquire.IsAcquisition() || !KindFallbackMint.IsAcquisition() {
		t.Error("acquire kinds should be acquisitions")
	}
	if KindFinalizeMetadata.IsAcquisition() {
		t.Error("finalize-metadata is not an acquisition")
	}
}

func TestTaskAcquisitionResult(t *testing.T) {
	res := AcquisitionResult{Success: true, TokenID: "tok-1"}
	raw, _ := json.Marshal(res)

	tk := Task{Kind: KindAcquire, Result: raw}
	got, ok := tk.AcquisitionResult()
	if !ok || got.TokenID != "tok-1" {
		t.Fatalf("expected token tok-1, got %+v ok=%v", got, ok)
	}

	tk = Task{Kind: KindFinalizeMetadata, Result: raw}
	if _, ok := tk.AcquisitionResult(); ok {
		t.Fatal("finalize task should not yield an acquisition result")
	}

	tk = Task{Kind: KindAcquire}
	if _, ok := tk.AcquisitionResult(); ok {
		t.Fatal("task without result should not yield an acquisition result")
	}
}
