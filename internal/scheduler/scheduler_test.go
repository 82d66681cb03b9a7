package scheduler

import (
	"sync"
	"testing"
	"time"
)

type fakeEvictor struct {
	mu     sync.Mutex
	sweeps int
	idle   time.Duration
}

func (f *fakeEvictor) EvictIdle(maxIdle time.Duration) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweeps++
	f.idle = maxIdle
	return []string{"zephyr-7b-beta"}
}

func TestSweeperFires(t *testing.T) {
	ev := &fakeEvictor{}
	sw := NewSweeper(ev, "* * * * * *", 30*time.Minute)
	if err := sw.Start(); err != nil {
		t.Fatal(err)
	}
	defer sw.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		ev.mu.Lock()
		n := ev.sweeps
		ev.mu.Unlock()
		if n >= 1 {
			ev.mu.Lock()
			defer ev.mu.Unlock()
			if ev.idle != 30*time.Minute {
				t.Errorf("maxIdle = %v, want 30m", ev.idle)
			}
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("sweep never fired")
}

func TestSweeperRejectsBadSchedule(t *testing.T) {
	sw := NewSweeper(&fakeEvictor{}, "not a schedule", time.Minute)
	if err := sw.Start(); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}
