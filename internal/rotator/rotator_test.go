package rotator

import (
	"context"
	"errors"
	"testing"
	"time"

	"sequence_engine/internal/browser/browsertest"
)

func waitDone(t *testing.T, done <-chan struct{}, timeout time.Duration) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("rotator did not self-terminate")
	}
}

func TestRotatorSelfTerminatesWhenAllComplete(t *testing.T) {
	r := New(5*time.Millisecond, nil)
	p := browsertest.NewPage("a")
	r.Register("a", p)
	r.Complete("a")

	r.Start()
	waitDone(t, r.Done(), time.Second)

	if n := r.Activations(); n != 0 {
		t.Fatalf("activations = %d, want 0", n)
	}
	if r.Running() {
		t.Fatal("rotator still marked running")
	}
}

func TestRotatorWaitsForFirstRegister(t *testing.T) {
	r := New(5*time.Millisecond, nil)
	r.Start()
	defer r.Stop()

	// 批次启动时轮换器先跑起来，第一个页面可能几秒后才打开。
	time.Sleep(30 * time.Millisecond)
	if !r.Running() {
		t.Fatal("rotator stopped before any session was registered")
	}

	p := browsertest.NewPage("late")
	r.Register("late", p)

	deadline := time.Now().Add(time.Second)
	for p.FrontCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if p.FrontCount() == 0 {
		t.Fatal("late-registered tab never activated")
	}
}

func TestRotatorRoundRobin(t *testing.T) {
	r := New(5*time.Millisecond, nil)
	a := browsertest.NewPage("a")
	b := browsertest.NewPage("b")
	r.Register("a", a)
	r.Register("b", b)

	r.Start()
	defer r.Stop()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if a.FrontCount() >= 2 && b.FrontCount() >= 2 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("rotation uneven: a=%d b=%d", a.FrontCount(), b.FrontCount())
}

func TestRotatorSkipsClosedTab(t *testing.T) {
	r := New(5*time.Millisecond, nil)
	dead := browsertest.NewPage("dead")
	dead.SetAlive(false)
	live := browsertest.NewPage("live")
	r.Register("dead", dead)
	r.Register("live", live)

	r.Start()
	defer r.Stop()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if live.FrontCount() >= 1 {
			if dead.FrontCount() != 0 {
				t.Fatalf("dead tab was activated %d times", dead.FrontCount())
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("live tab never activated")
}

func TestRotatorPerTabErrorSwallowed(t *testing.T) {
	r := New(5*time.Millisecond, nil)
	bad := browsertest.NewPage("bad")
	bad.FrontErr = errors.New("some transient protocol hiccup")
	good := browsertest.NewPage("good")
	r.Register("bad", bad)
	r.Register("good", good)

	r.Start()
	defer r.Stop()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if good.FrontCount() >= 2 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("rotation stopped after a per-tab error")
}

func TestRotatorSystemicErrorStops(t *testing.T) {
	r := New(5*time.Millisecond, nil)
	p := browsertest.NewPage("p")
	p.FrontErr = errors.New("Execution context was destroyed")
	r.Register("p", p)

	r.Start()
	waitDone(t, r.Done(), time.Second)
}

func TestPromoRotatorSweepsAllTabs(t *testing.T) {
	c := browsertest.NewContext()
	var pages []*browsertest.FakePage
	for i := 0; i < 3; i++ {
		p, err := c.Open(context.Background(), "https://promo.example/p")
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		pages = append(pages, p.(*browsertest.FakePage))
	}

	r := NewPromo(c, 10*time.Millisecond, time.Millisecond, nil)
	r.Start()
	defer r.Stop()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		done := true
		for _, p := range pages {
			if p.FrontCount() < 2 {
				done = false
			}
		}
		if done {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	for i, p := range pages {
		t.Logf("page %d fronts=%d", i, p.FrontCount())
	}
	t.Fatal("promo rotator did not sweep every open tab")
}

func TestPromoRotatorStopsWhenAllClosed(t *testing.T) {
	c := browsertest.NewContext()
	p, err := c.Open(context.Background(), "https://promo.example/p")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	fp := p.(*browsertest.FakePage)

	r := NewPromo(c, 5*time.Millisecond, time.Millisecond, nil)
	r.Start()

	deadline := time.Now().Add(time.Second)
	for fp.FrontCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if fp.FrontCount() == 0 {
		t.Fatal("promo tab never activated")
	}

	_ = p.Close()
	waitDone(t, r.Done(), time.Second)
}

func TestPromoRotatorWaitsForFirstTab(t *testing.T) {
	c := browsertest.NewContext()
	r := NewPromo(c, 5*time.Millisecond, time.Millisecond, nil)
	r.Start()
	defer r.Stop()

	// 启动时还没有标签页：轮换器应当等待而不是立刻结束。
	time.Sleep(30 * time.Millisecond)
	if !r.Running() {
		t.Fatal("promo rotator stopped before any tab was opened")
	}

	p, err := c.Open(context.Background(), "https://promo.example/p")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	fp := p.(*browsertest.FakePage)
	deadline := time.Now().Add(time.Second)
	for fp.FrontCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if fp.FrontCount() == 0 {
		t.Fatal("late-opened promo tab never activated")
	}
}

func TestPromoRotatorStopsOnDeadContext(t *testing.T) {
	c := browsertest.NewContext()
	if _, err := c.Open(context.Background(), "https://promo.example/p"); err != nil {
		t.Fatalf("open: %v", err)
	}
	c.SetAlive(false)

	r := NewPromo(c, 5*time.Millisecond, time.Millisecond, nil)
	r.Start()
	waitDone(t, r.Done(), time.Second)
}
