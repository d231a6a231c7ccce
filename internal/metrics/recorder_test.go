package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorderCountsMutations(t *testing.T) {
	reg := prometheus.NewRegistry()
	recorder := NewRecorder(reg)

	recorder.ObserveMutation("drafts.update_row", OutcomeSuccess, 0.01)
	recorder.ObserveMutation("drafts.update_row", OutcomeSuccess, 0.02)
	recorder.ObserveMutation("drafts.update_row", OutcomeFailure, 0.01)
	recorder.AddForks("table", 2)
	recorder.AddReverts(1)
	recorder.EventPublished("RowUpdated")

	if got := testutil.ToFloat64(recorder.mutations.WithLabelValues("drafts.update_row", OutcomeSuccess)); got != 2 {
		t.Fatalf("expected 2 successful mutations, got %v", got)
	}
	if got := testutil.ToFloat64(recorder.forks.WithLabelValues("table")); got != 2 {
		t.Fatalf("expected 2 forks, got %v", got)
	}
	if got := testutil.ToFloat64(recorder.reverts); got != 1 {
		t.Fatalf("expected 1 revert, got %v", got)
	}
	if got := testutil.ToFloat64(recorder.events.WithLabelValues("RowUpdated")); got != 1 {
		t.Fatalf("expected 1 published event, got %v", got)
	}
}

func TestNilRecorderIsNoOp(t *testing.T) {
	var recorder *Recorder
	recorder.ObserveMutation("drafts.commit", OutcomeSuccess, 0)
	recorder.AddForks("row", 1)
	recorder.AddReverts(1)
	recorder.EventPublished("RevisionCommitted")
}
