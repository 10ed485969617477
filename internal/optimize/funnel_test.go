package optimize

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestFunnel(t *testing.T) {
	t.Run("jobs never overlap", func(t *testing.T) {
		f := NewFunnel()
		defer f.Close()

		var active, peak int32
		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = f.Do(context.Background(), func() error {
					n := atomic.AddInt32(&active, 1)
					if n > atomic.LoadInt32(&peak) {
						atomic.StoreInt32(&peak, n)
					}
					atomic.AddInt32(&active, -1)
					return nil
				})
			}()
		}
		wg.Wait()

		if p := atomic.LoadInt32(&peak); p != 1 {
			t.Errorf("expected at most 1 job in flight, saw %d", p)
		}
	})

	t.Run("job errors come back to the caller", func(t *testing.T) {
		f := NewFunnel()
		defer f.Close()

		want := errors.New("boom")
		if err := f.Do(context.Background(), func() error { return want }); !errors.Is(err, want) {
			t.Errorf("expected %v, got %v", want, err)
		}
	})

	t.Run("cancelled context fails fast before pickup", func(t *testing.T) {
		f := NewFunnel()
		defer f.Close()

		block := make(chan struct{})
		started := make(chan struct{})
		go f.Do(context.Background(), func() error {
			close(started)
			<-block
			return nil
		})
		<-started

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := f.Do(ctx, func() error { return nil }); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
		close(block)
	})

	t.Run("do after close errors", func(t *testing.T) {
		f := NewFunnel()
		f.Close()
		f.Close() // idempotent

		if err := f.Do(context.Background(), func() error { return nil }); err == nil {
			t.Error("expected error after close")
		}
	})
}
