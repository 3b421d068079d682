package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"sequence_engine/internal/flowerr"
)

func TestDoRetriesTransient(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 3, Delay: time.Millisecond}, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("page not ready")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	wantErr := errors.New("still broken")
	err := Do(context.Background(), Policy{MaxAttempts: 4, Delay: time.Millisecond}, func(ctx context.Context) error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
	if calls != 4 {
		t.Fatalf("calls = %d, want 4", calls)
	}
}

func TestDoTabClosedAbortsImmediately(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 5, Delay: time.Millisecond}, func(ctx context.Context) error {
		calls++
		return fmt.Errorf("submit: %w", flowerr.ErrTabClosed)
	})
	if !errors.Is(err, flowerr.ErrTabClosed) {
		t.Fatalf("err = %v, want tab closed", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestDoContextDestroyedRecheck(t *testing.T) {
	rechecked := false
	err := Do(context.Background(), Policy{
		MaxAttempts: 5,
		Delay:       time.Millisecond,
		Grace:       time.Millisecond,
		Recheck: func(ctx context.Context) error {
			rechecked = true
			return nil
		},
	}, func(ctx context.Context) error {
		return flowerr.ErrContextDestroyed
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rechecked {
		t.Fatal("recheck was not invoked")
	}
}

func TestDoContextDestroyedWithoutRecheck(t *testing.T) {
	err := Do(context.Background(), Policy{MaxAttempts: 5, Delay: time.Millisecond}, func(ctx context.Context) error {
		return errors.New("Execution context was destroyed")
	})
	if flowerr.Classify(err) != flowerr.KindContextDestroyed {
		t.Fatalf("err = %v, want contextDestroyed classification", err)
	}
}

func TestPollUntilPositiveDetection(t *testing.T) {
	calls := 0
	ok, err := PollUntil(context.Background(), time.Millisecond, 10, func(ctx context.Context) (bool, error) {
		calls++
		return calls == 4, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected detection")
	}
	if calls != 4 {
		t.Fatalf("calls = %d, want 4", calls)
	}
}

func TestPollUntilNeverSucceedsByTimeout(t *testing.T) {
	calls := 0
	ok, err := PollUntil(context.Background(), time.Millisecond, 5, func(ctx context.Context) (bool, error) {
		calls++
		return false, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("poll must not succeed by exhaustion")
	}
	if calls != 5 {
		t.Fatalf("calls = %d, want 5", calls)
	}
}

func TestPollUntilPredicateError(t *testing.T) {
	wantErr := errors.New("page gone")
	ok, err := PollUntil(context.Background(), time.Millisecond, 5, func(ctx context.Context) (bool, error) {
		return false, wantErr
	})
	if ok || !errors.Is(err, wantErr) {
		t.Fatalf("got ok=%v err=%v", ok, err)
	}
}

func TestPollUntilHonorsCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ok, err := PollUntil(ctx, time.Millisecond, 5, func(ctx context.Context) (bool, error) {
		return false, nil
	})
	if ok || !errors.Is(err, context.Canceled) {
		t.Fatalf("got ok=%v err=%v", ok, err)
	}
}
