package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dgallion1/storygest/internal/session"
)

func TestRecorder_Finished(t *testing.T) {
	r := NewRecorder(time.Hour)
	before := counterValue(t, "storygest_session_finished_total", "completed")

	r.Finished(session.OutcomeCompleted, 200*time.Millisecond, 3*time.Second)
	r.Finished(session.OutcomeFailed, 0, time.Second)
	r.Finished(session.OutcomeSuperseded, 50*time.Millisecond, 100*time.Millisecond)

	after := counterValue(t, "storygest_session_finished_total", "completed")
	if after-before != 1 {
		t.Errorf("expected completed counter +1, got %v", after-before)
	}

	snap := r.Snapshot()
	if snap.FirstByte.Count != 1 || snap.FirstByte.MinMs != 200 {
		t.Errorf("expected one first-byte sample of 200ms, got %+v", snap.FirstByte)
	}
	if snap.Duration.Count != 2 {
		t.Errorf("expected 2 duration samples (superseded excluded), got %+v", snap.Duration)
	}
}

func TestRecorder_Counters(t *testing.T) {
	r := NewRecorder(time.Hour)
	bytesBefore := counterValue(t, "storygest_session_received_bytes_total", "")
	flushesBefore := counterValue(t, "storygest_session_flushes_total", "")

	r.ChunkReceived(128)
	r.ChunkReceived(64)
	r.Flushed(192, time.Millisecond)

	if got := counterValue(t, "storygest_session_received_bytes_total", "") - bytesBefore; got != 192 {
		t.Errorf("expected 192 bytes counted, got %v", got)
	}
	if got := counterValue(t, "storygest_session_flushes_total", "") - flushesBefore; got != 1 {
		t.Errorf("expected 1 flush counted, got %v", got)
	}
}

// counterValue reads a counter from the default registry. A non-empty label
// selects the series whose single label has that value.
func counterValue(t *testing.T, name, label string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if label == "" || (len(m.GetLabel()) == 1 && m.GetLabel()[0].GetValue() == label) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}
