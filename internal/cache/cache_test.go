package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestKey(t *testing.T) {
	t.Run("line ending and trailing space changes do not change the key", func(t *testing.T) {
		a := Key("hello\nworld\n")
		b := Key("hello  \r\nworld\r\n")
		if a != b {
			t.Errorf("expected identical keys, got %s and %s", a, b)
		}
	})

	t.Run("different content yields different keys", func(t *testing.T) {
		if Key("alpha") == Key("beta") {
			t.Error("expected distinct keys")
		}
	})
}

func TestCache_GetOrCompute(t *testing.T) {
	ctx := context.Background()

	t.Run("second call with same content does not recompute", func(t *testing.T) {
		c := New("")
		calls := 0
		compute := func(context.Context) ([]byte, error) {
			calls++
			return []byte(`{"v": 1}`), nil
		}

		first, err := c.GetOrCompute(ctx, "script body", compute)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		second, err := c.GetOrCompute(ctx, "script body", compute)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if calls != 1 {
			t.Errorf("expected exactly 1 compute call, got %d", calls)
		}
		if string(first) != string(second) {
			t.Errorf("expected identical payloads, got %s and %s", first, second)
		}
	})

	t.Run("bypass recomputes and replaces the stored value", func(t *testing.T) {
		c := New("")
		calls := 0
		compute := func(context.Context) ([]byte, error) {
			calls++
			if calls == 1 {
				return []byte(`"old"`), nil
			}
			return []byte(`"new"`), nil
		}

		if _, err := c.GetOrCompute(ctx, "content", compute); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		fresh, err := c.GetOrCompute(ctx, "content", compute, WithBypass())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(fresh) != `"new"` {
			t.Errorf("expected recomputed value, got %s", fresh)
		}
		if calls != 2 {
			t.Errorf("expected 2 compute calls, got %d", calls)
		}

		cached, ok := c.Lookup("content")
		if !ok || string(cached) != `"new"` {
			t.Errorf("expected bypass result to replace stored value, got %s (ok=%v)", cached, ok)
		}
	})

	t.Run("compute errors pass through and nothing is stored", func(t *testing.T) {
		c := New("")
		wantErr := os.ErrDeadlineExceeded
		_, err := c.GetOrCompute(ctx, "content", func(context.Context) ([]byte, error) {
			return nil, wantErr
		})
		if err != wantErr {
			t.Fatalf("expected compute error passed through, got %v", err)
		}
		if _, ok := c.Lookup("content"); ok {
			t.Error("expected nothing stored after a failed compute")
		}
	})

	t.Run("disk mirror survives a new cache instance", func(t *testing.T) {
		dir := t.TempDir()
		c1 := New(dir)
		if _, err := c1.GetOrCompute(ctx, "persistent", func(context.Context) ([]byte, error) {
			return []byte(`{"stages": 3}`), nil
		}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		// Fresh instance, empty memory tier; must read the disk file.
		c2 := New(dir)
		calls := 0
		payload, err := c2.GetOrCompute(ctx, "persistent", func(context.Context) ([]byte, error) {
			calls++
			return nil, nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if calls != 0 {
			t.Errorf("expected disk hit without compute, got %d calls", calls)
		}
		if string(payload) != `{"stages": 3}` {
			t.Errorf("unexpected payload: %s", payload)
		}
	})

	t.Run("unwritable disk dir degrades to memory-only", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "blocked")
		if err := os.WriteFile(dir, []byte("not a directory"), 0o644); err != nil {
			t.Fatal(err)
		}

		c := New(dir)
		payload, err := c.GetOrCompute(ctx, "content", func(context.Context) ([]byte, error) {
			return []byte(`1`), nil
		})
		if err != nil {
			t.Fatalf("disk failure must not surface: %v", err)
		}
		if string(payload) != `1` {
			t.Errorf("unexpected payload: %s", payload)
		}
		if cached, ok := c.Lookup("content"); !ok || string(cached) != `1` {
			t.Error("expected memory tier to still hold the value")
		}
	})

	t.Run("corrupt disk entry is ignored", func(t *testing.T) {
		dir := t.TempDir()
		key := Key("content")
		if err := os.WriteFile(filepath.Join(dir, key+".json"), []byte("{broken"), 0o644); err != nil {
			t.Fatal(err)
		}

		c := New(dir)
		calls := 0
		if _, err := c.GetOrCompute(ctx, "content", func(context.Context) ([]byte, error) {
			calls++
			return []byte(`2`), nil
		}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if calls != 1 {
			t.Errorf("expected recompute after corrupt entry, got %d calls", calls)
		}
	})
}
