package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"sequence_engine/internal/browser"
	"sequence_engine/internal/browser/browsertest"
	"sequence_engine/internal/flowerr"
)

func TestGetOrCreateSingleCreation(t *testing.T) {
	p := New(nil)
	var creations atomic.Int64
	shared := browsertest.NewContext()

	create := func(ctx context.Context) (browser.Context, error) {
		creations.Add(1)
		time.Sleep(20 * time.Millisecond)
		return shared, nil
	}

	const callers = 32
	results := make([]browser.Context, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := p.GetOrCreate(context.Background(), KeyLoginWindow, create)
			if err != nil {
				t.Errorf("caller %d: %v", i, err)
				return
			}
			results[i] = c
		}(i)
	}
	wg.Wait()

	if n := creations.Load(); n != 1 {
		t.Fatalf("creations = %d, want 1", n)
	}
	for i, c := range results {
		if c != browser.Context(shared) {
			t.Fatalf("caller %d got a different handle", i)
		}
	}
}

func TestGetOrCreateMemoizesFailure(t *testing.T) {
	p := New(nil)
	var creations atomic.Int64
	wantErr := errors.New("window refused to open")

	create := func(ctx context.Context) (browser.Context, error) {
		creations.Add(1)
		return nil, wantErr
	}

	for i := 0; i < 3; i++ {
		if _, err := p.GetOrCreate(context.Background(), KeyPromoContext, create); !errors.Is(err, wantErr) {
			t.Fatalf("call %d: err = %v, want %v", i, err, wantErr)
		}
	}
	if n := creations.Load(); n != 1 {
		t.Fatalf("creations = %d, want 1 (no silent recreate)", n)
	}
}

func TestGetOrCreateResourceLost(t *testing.T) {
	p := New(nil)
	shared := browsertest.NewContext()
	create := func(ctx context.Context) (browser.Context, error) { return shared, nil }

	if _, err := p.GetOrCreate(context.Background(), KeyLoginWindow, create); err != nil {
		t.Fatalf("first call: %v", err)
	}
	shared.SetAlive(false)

	_, err := p.GetOrCreate(context.Background(), KeyLoginWindow, create)
	if !errors.Is(err, flowerr.ErrResourceLost) {
		t.Fatalf("err = %v, want resource lost", err)
	}
}

func TestReconcileBlankTabs(t *testing.T) {
	p := New(nil)
	c := browsertest.NewContext()
	blanks := c.AddBlank(2)

	keep, err := c.Open(context.Background(), "about:blank")
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if err := p.ReconcileBlankTabs(context.Background(), c, keep); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	for i, b := range blanks {
		if b.IsAlive() {
			t.Errorf("blank tab %d still alive", i)
		}
	}
	if !keep.IsAlive() {
		t.Fatal("kept tab was closed")
	}
}

func TestCloseAll(t *testing.T) {
	p := New(nil)
	shared := browsertest.NewContext()
	if _, err := p.GetOrCreate(context.Background(), KeyLoginWindow, func(ctx context.Context) (browser.Context, error) {
		return shared, nil
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	p.CloseAll()
	if shared.IsAlive() {
		t.Fatal("context not closed by terminal cleanup")
	}
}
