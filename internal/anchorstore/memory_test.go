package anchorstore

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/BrKDDD/LawAgent2/pkg/domain"
)

const fp = "sha256:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

func TestCreateIfAbsentOnce(t *testing.T) {
	st := NewMemory()
	rec, created, err := st.CreateIfAbsent(context.Background(), fp)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !created || rec.Status != domain.StatusPending {
		t.Fatalf("expected fresh Pending record, got created=%v status=%s", created, rec.Status)
	}
	_, created, err = st.CreateIfAbsent(context.Background(), fp)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if created {
		t.Fatalf("expected created=false on second call")
	}
}

func TestCreateIfAbsentConcurrent(t *testing.T) {
	st := NewMemory()
	const n = 32
	createdCount := 0
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, created, err := st.CreateIfAbsent(context.Background(), fp)
			if err != nil {
				t.Errorf("unexpected err: %v", err)
				return
			}
			if created {
				mu.Lock()
				createdCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if createdCount != 1 {
		t.Fatalf("expected exactly one creation, got %d", createdCount)
	}
}

func TestTransitionHappyPath(t *testing.T) {
	st := NewMemory()
	_, _, _ = st.CreateIfAbsent(context.Background(), fp)

	steps := []struct {
		from, to domain.Status
		fields   Fields
	}{
		{domain.StatusPending, domain.StatusSigning, Fields{Attempts: 1}},
		{domain.StatusSigning, domain.StatusSigned, Fields{Signature: "sig_abc", SignerID: "0xdead"}},
		{domain.StatusSigned, domain.StatusSubmitting, Fields{}},
		{domain.StatusSubmitting, domain.StatusSubmitted, Fields{TxHash: "0xtx1"}},
		{domain.StatusSubmitted, domain.StatusConfirmed, Fields{Confirmations: 3}},
	}
	var rec domain.AnchorRecord
	var err error
	for _, s := range steps {
		rec, err = st.Transition(context.Background(), fp, s.from, s.to, s.fields)
		if err != nil {
			t.Fatalf("transition %s->%s: %v", s.from, s.to, err)
		}
	}
	if rec.Status != domain.StatusConfirmed || rec.TxHash != "0xtx1" || rec.Confirmations != 3 {
		t.Fatalf("unexpected final record: %+v", rec)
	}
	if rec.Signature != "sig_abc" {
		t.Fatalf("fields from earlier transitions must persist: %+v", rec)
	}
}

func TestTransitionStaleGuard(t *testing.T) {
	st := NewMemory()
	_, _, _ = st.CreateIfAbsent(context.Background(), fp)
	if _, err := st.Transition(context.Background(), fp, domain.StatusPending, domain.StatusSigning, Fields{}); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	// Second worker still believes the record is Pending.
	_, err := st.Transition(context.Background(), fp, domain.StatusPending, domain.StatusSigning, Fields{})
	if !errors.Is(err, domain.ErrStaleTransition) {
		t.Fatalf("expected ErrStaleTransition, got %v", err)
	}
	// Record untouched by the failed transition.
	rec, _, _ := st.Get(context.Background(), fp)
	if rec.Status != domain.StatusSigning {
		t.Fatalf("record must be left as-is, got %s", rec.Status)
	}
}

func TestTransitionRejectsSkips(t *testing.T) {
	st := NewMemory()
	_, _, _ = st.CreateIfAbsent(context.Background(), fp)
	if _, err := st.Transition(context.Background(), fp, domain.StatusPending, domain.StatusSigned, Fields{}); !errors.Is(err, domain.ErrStaleTransition) {
		t.Fatalf("expected lattice violation, got %v", err)
	}
	if _, err := st.Transition(context.Background(), fp, domain.StatusPending, domain.StatusFailed, Fields{}); !errors.Is(err, domain.ErrStaleTransition) {
		t.Fatalf("FAILED must not be reachable from Pending, got %v", err)
	}
}

func TestTransitionUnknownFingerprint(t *testing.T) {
	st := NewMemory()
	_, err := st.Transition(context.Background(), fp, domain.StatusPending, domain.StatusSigning, Fields{})
	if !errors.Is(err, domain.ErrStaleTransition) {
		t.Fatalf("expected ErrStaleTransition, got %v", err)
	}
}
