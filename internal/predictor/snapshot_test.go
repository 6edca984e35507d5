package predictor

import (
	"sync"
	"testing"
)

func TestHandleStartsEmpty(t *testing.T) {
	h := NewHandle(nil)
	if h.Load() != nil {
		t.Fatal("expected nil snapshot before first publish")
	}
}

func TestPublishReplacesWholeSnapshot(t *testing.T) {
	first := snapshotOf(&fixedMember{probs: []float64{0.1}})
	h := NewHandle(first)

	second := &Snapshot{Version: 2, Members: []Member{
		&fixedMember{probs: []float64{0.2}},
		&fixedMember{probs: []float64{0.3}},
	}}
	h.Publish(second)

	got := h.Load()
	if got.Version != 2 || len(got.Members) != 2 {
		t.Fatalf("unexpected snapshot after publish: version=%d members=%d", got.Version, len(got.Members))
	}
}

// Readers must never observe a snapshot whose version and member count
// disagree, no matter how publishes interleave.
func TestConcurrentReadersSeeConsistentSnapshots(t *testing.T) {
	h := NewHandle(nil)

	const versions = 200
	published := make([]*Snapshot, versions)
	for v := 0; v < versions; v++ {
		members := make([]Member, v%5+1)
		for i := range members {
			members[i] = &fixedMember{probs: []float64{0.5}}
		}
		published[v] = &Snapshot{Version: v + 1, Members: members}
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := h.Load()
				if snap == nil {
					continue
				}
				wantMembers := (snap.Version-1)%5 + 1
				if len(snap.Members) != wantMembers {
					t.Errorf("torn snapshot: version=%d members=%d want=%d", snap.Version, len(snap.Members), wantMembers)
					return
				}
			}
		}()
	}

	for _, snap := range published {
		h.Publish(snap)
	}
	close(stop)
	wg.Wait()
}
