package registry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/user/scrivener/pkg/llm"
)

// fakeBackend satisfies llm.Backend for registry tests.
type fakeBackend struct {
	modelType string
	closed    atomic.Bool
}

func (f *fakeBackend) Generate(ctx context.Context, messages []llm.Message, config *llm.GenerationConfig) (*llm.Result, error) {
	return &llm.Result{Text: "ok", TokenCount: 1}, nil
}

func (f *fakeBackend) Close() error {
	f.closed.Store(true)
	return nil
}

func countingFactory(loads *atomic.Int32, delay time.Duration) Factory {
	return func(ctx context.Context, modelType string) (llm.Backend, *llm.GenerationConfig, error) {
		loads.Add(1)
		time.Sleep(delay)
		return &fakeBackend{modelType: modelType}, &llm.GenerationConfig{MaxNewTokens: 256}, nil
	}
}

func TestEnsureLoadsOnce(t *testing.T) {
	var loads atomic.Int32
	reg := New(countingFactory(&loads, 0))
	ctx := context.Background()

	first, err := reg.Ensure(ctx, "model-a")
	if err != nil {
		t.Fatal(err)
	}
	second, err := reg.Ensure(ctx, "model-a")
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Error("expected the same entry on repeat Ensure")
	}
	if loads.Load() != 1 {
		t.Errorf("expected 1 load, got %d", loads.Load())
	}
}

func TestConcurrentEnsureSharesOneLoad(t *testing.T) {
	var loads atomic.Int32
	reg := New(countingFactory(&loads, 50*time.Millisecond))
	ctx := context.Background()

	var wg sync.WaitGroup
	entries := make([]*Entry, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entry, err := reg.Ensure(ctx, "model-a")
			if err != nil {
				t.Error(err)
				return
			}
			entries[i] = entry
		}(i)
	}
	wg.Wait()

	if loads.Load() != 1 {
		t.Errorf("expected exactly 1 load for concurrent requests, got %d", loads.Load())
	}
	for i := 1; i < 8; i++ {
		if entries[i] != entries[0] {
			t.Fatal("concurrent callers must share the same entry")
		}
	}
}

func TestEnsureLoadFailurePropagates(t *testing.T) {
	reg := New(func(ctx context.Context, modelType string) (llm.Backend, *llm.GenerationConfig, error) {
		return nil, nil, fmt.Errorf("download failure")
	})

	if _, err := reg.Ensure(context.Background(), "bad-model"); err == nil {
		t.Fatal("expected load error")
	}
	// A failed load must not leave a cached entry behind.
	if len(reg.Loaded()) != 0 {
		t.Errorf("expected no loaded models, got %v", reg.Loaded())
	}
}

func TestRestartReloads(t *testing.T) {
	var loads atomic.Int32
	reg := New(countingFactory(&loads, 0))
	ctx := context.Background()

	first, err := reg.Ensure(ctx, "model-a")
	if err != nil {
		t.Fatal(err)
	}
	second, err := reg.Restart(ctx, "model-a")
	if err != nil {
		t.Fatal(err)
	}

	if loads.Load() != 2 {
		t.Errorf("expected 2 loads after restart, got %d", loads.Load())
	}
	if !first.Backend.(*fakeBackend).closed.Load() {
		t.Error("restart must close the old backend")
	}
	if second == first {
		t.Error("restart must produce a fresh entry")
	}
}

func TestEvictIdle(t *testing.T) {
	var loads atomic.Int32
	reg := New(countingFactory(&loads, 0))
	ctx := context.Background()

	entry, err := reg.Ensure(ctx, "model-a")
	if err != nil {
		t.Fatal(err)
	}

	// Nothing is older than an hour.
	if evicted := reg.EvictIdle(time.Hour); len(evicted) != 0 {
		t.Errorf("expected no evictions, got %v", evicted)
	}

	// Everything is older than zero.
	time.Sleep(time.Millisecond)
	evicted := reg.EvictIdle(0)
	if len(evicted) != 1 || evicted[0] != "model-a" {
		t.Fatalf("expected model-a evicted, got %v", evicted)
	}
	if !entry.Backend.(*fakeBackend).closed.Load() {
		t.Error("eviction must close the backend")
	}
	if len(reg.Loaded()) != 0 {
		t.Error("evicted model still listed as loaded")
	}
}
