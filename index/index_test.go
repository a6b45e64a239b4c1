package index

import (
	"testing"
	"time"

	"github.com/lattixhq/lattix"
)

func TestTrackerLifecycle(t *testing.T) {
	tr := NewTracker()

	select {
	case <-tr.Done():
		t.Fatal("new tracker must not be done")
	default:
	}

	tr.SetStep("Parsing sources", 40)
	st := tr.Status()
	if st.CurrentStep != "Parsing sources" || st.Percent != 40 {
		t.Fatalf("status = %+v", st)
	}

	tr.Finish(lattix.IndexResult{Success: true, EntitiesCreated: 12})

	select {
	case <-tr.Done():
	case <-time.After(time.Second):
		t.Fatal("Done never closed")
	}
	if res := tr.Result(); !res.Success || res.EntitiesCreated != 12 {
		t.Fatalf("result = %+v", res)
	}
	if tr.Status().Percent != 100 {
		t.Fatalf("finished tracker reports %d%%, want 100", tr.Status().Percent)
	}
}

func TestTrackerConcurrentStatusReads(t *testing.T) {
	tr := NewTracker()
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			tr.SetStep("step", i)
		}
		tr.Finish(lattix.IndexResult{Success: true})
		close(done)
	}()
	for {
		select {
		case <-done:
			return
		default:
			_ = tr.Status()
		}
	}
}
