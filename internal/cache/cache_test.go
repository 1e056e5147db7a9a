package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// countingFetch returns a fetch function that counts its invocations.
func countingFetch(calls *int32, value string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) {
		n := atomic.AddInt32(calls, 1)
		return fmt.Sprintf("%s-%d", value, n), nil
	}
}

// ---------------------------------------------------------------------------
// Key
// ---------------------------------------------------------------------------

func Test_Key_Cases(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		params   map[string]string
		want     string
	}{
		{"no params", "/api/v2.0/disk", nil, "/api/v2.0/disk"},
		{"single param", "/api/v2.0/disk", map[string]string{"limit": "0"}, "/api/v2.0/disk?limit=0"},
		{"sorted params", "/x", map[string]string{"b": "2", "a": "1"}, "/x?a=1&b=2"},
		{"escaped value", "/ds", map[string]string{"mountpoint": "/mnt/storage"}, "/ds?mountpoint=%2Fmnt%2Fstorage"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Key(tt.endpoint, tt.params); got != tt.want {
				t.Errorf("Key() = %q, want %q", got, tt.want)
			}
		})
	}
}

func Test_Key_OrderIndependent(t *testing.T) {
	a := Key("/x", map[string]string{"a": "1", "b": "2", "c": "3"})
	b := Key("/x", map[string]string{"c": "3", "a": "1", "b": "2"})
	if a != b {
		t.Errorf("keys differ: %q vs %q", a, b)
	}
}

// ---------------------------------------------------------------------------
// GetOrFetch lifetime contract
// ---------------------------------------------------------------------------

func Test_GetOrFetch_HitWithinLifetime(t *testing.T) {
	clock := newFakeClock()
	c := New(10, nil, WithClock(clock.Now))
	var calls int32
	ctx := context.Background()

	first, err := GetOrFetch(ctx, c, "k", time.Minute, countingFetch(&calls, "v"))
	if err != nil {
		t.Fatalf("first call error: %v", err)
	}
	clock.Advance(59 * time.Second)
	second, err := GetOrFetch(ctx, c, "k", time.Minute, countingFetch(&calls, "v"))
	if err != nil {
		t.Fatalf("second call error: %v", err)
	}

	if calls != 1 {
		t.Errorf("fetch called %d times, want 1", calls)
	}
	if first != second {
		t.Errorf("second = %q, want cached %q", second, first)
	}
}

func Test_GetOrFetch_RefetchAfterLifetime(t *testing.T) {
	clock := newFakeClock()
	c := New(10, nil, WithClock(clock.Now))
	var calls int32
	ctx := context.Background()

	if _, err := GetOrFetch(ctx, c, "k", time.Minute, countingFetch(&calls, "v")); err != nil {
		t.Fatal(err)
	}
	clock.Advance(time.Minute)
	got, err := GetOrFetch(ctx, c, "k", time.Minute, countingFetch(&calls, "v"))
	if err != nil {
		t.Fatal(err)
	}

	if calls != 2 {
		t.Errorf("fetch called %d times, want 2", calls)
	}
	if got != "v-2" {
		t.Errorf("got %q, want v-2", got)
	}
}

func Test_GetOrFetch_LifetimeIsPerCall(t *testing.T) {
	clock := newFakeClock()
	c := New(10, nil, WithClock(clock.Now))
	var calls int32
	ctx := context.Background()

	_, _ = GetOrFetch(ctx, c, "k", 300*time.Second, countingFetch(&calls, "v"))
	clock.Advance(10 * time.Second)

	// A shorter lifetime at another call site sees the entry as stale.
	_, _ = GetOrFetch(ctx, c, "k", 3*time.Second, countingFetch(&calls, "v"))
	if calls != 2 {
		t.Errorf("fetch called %d times, want 2", calls)
	}
}

func Test_GetOrFetch_FailureNotCached(t *testing.T) {
	c := New(10, nil)
	var calls int32
	boom := errors.New("boom")
	fetch := func(context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "", boom
	}

	for i := 0; i < 2; i++ {
		if _, err := GetOrFetch(context.Background(), c, "k", time.Hour, fetch); !errors.Is(err, boom) {
			t.Fatalf("call %d: err = %v, want boom", i, err)
		}
	}
	if calls != 2 {
		t.Errorf("fetch called %d times, want 2", calls)
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0", c.Len())
	}
}

func Test_GetOrFetch_PanicBecomesError(t *testing.T) {
	c := New(10, nil)
	_, err := GetOrFetch(context.Background(), c, "k", time.Hour, func(context.Context) (int, error) {
		panic("bad payload")
	})
	if err == nil {
		t.Fatal("expected error from panicking fetch")
	}
}

// ---------------------------------------------------------------------------
// Concurrency
// ---------------------------------------------------------------------------

func Test_GetOrFetch_ConcurrentMissesShareOneFetch(t *testing.T) {
	c := New(10, nil)
	var calls int32
	release := make(chan struct{})
	fetch := func(context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return "shared", nil
	}

	const workers = 8
	var wg sync.WaitGroup
	results := make([]string, workers)
	started := make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			started <- struct{}{}
			v, err := GetOrFetch(context.Background(), c, "k", time.Minute, fetch)
			if err != nil {
				t.Errorf("worker %d: %v", i, err)
			}
			results[i] = v
		}(i)
	}
	for i := 0; i < workers; i++ {
		<-started
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls != 1 {
		t.Errorf("fetch called %d times, want 1", calls)
	}
	for i, v := range results {
		if v != "shared" {
			t.Errorf("worker %d got %q", i, v)
		}
	}
}

func Test_GetOrFetch_AbandonedCallerStillPopulates(t *testing.T) {
	c := New(10, nil)
	release := make(chan struct{})
	done := make(chan struct{})
	fetch := func(ctx context.Context) (string, error) {
		defer close(done)
		<-release
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "late", nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := GetOrFetch(ctx, c, "k", time.Minute, fetch); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}

	close(release)
	<-done
	// Give the flight a moment to store after fetch returns.
	deadline := time.Now().Add(time.Second)
	for c.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	var calls int32
	got, err := GetOrFetch(context.Background(), c, "k", time.Minute, countingFetch(&calls, "fresh"))
	if err != nil {
		t.Fatal(err)
	}
	if got != "late" || calls != 0 {
		t.Errorf("got %q with %d fetches, want cached \"late\"", got, calls)
	}
}

func Test_store_OlderGenerationDoesNotClobber(t *testing.T) {
	c := New(10, nil)
	old := c.nextGen()
	newer := c.nextGen()

	c.store("k", newer, "new")
	c.store("k", old, "old")

	v, ok := c.lookup("k", time.Hour)
	if !ok || v != "new" {
		t.Errorf("lookup = %v, %v; want new", v, ok)
	}
}

// ---------------------------------------------------------------------------
// Eviction
// ---------------------------------------------------------------------------

func Test_GetOrFetch_BoundedEntries(t *testing.T) {
	clock := newFakeClock()
	c := New(3, nil, WithClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		key := fmt.Sprintf("k%d", i)
		if _, err := GetOrFetch(ctx, c, key, time.Hour, func(context.Context) (int, error) { return i, nil }); err != nil {
			t.Fatal(err)
		}
		clock.Advance(time.Second)
	}

	if c.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", c.Len())
	}
	// Oldest keys go first; the newest insert always survives.
	if _, ok := c.lookup("k0", time.Hour); ok {
		t.Error("k0 should have been evicted")
	}
	if _, ok := c.lookup("k4", time.Hour); !ok {
		t.Error("k4 should be present")
	}
}

func Test_Purge_EmptiesCache(t *testing.T) {
	c := New(10, nil)
	_, _ = GetOrFetch(context.Background(), c, "k", time.Hour, func(context.Context) (int, error) { return 1, nil })
	c.Purge()
	if c.Len() != 0 {
		t.Errorf("Len() = %d after Purge", c.Len())
	}
}
