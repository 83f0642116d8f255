package quota

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/quotaguard/quotaguard/pkg/clock"
	"github.com/quotaguard/quotaguard/pkg/store"
)

// brokenStore fails every operation, standing in for an unreachable shared
// store.
type brokenStore struct{}

var errStoreDown = errors.New("store down")

func (brokenStore) GetBucket(context.Context, string) (store.BucketRecord, bool, error) {
	return store.BucketRecord{}, false, errStoreDown
}
func (brokenStore) UpdateBucket(context.Context, string, time.Duration, store.UpdateFunc) error {
	return errStoreDown
}
func (brokenStore) Incr(context.Context, string, time.Duration) (int64, error) {
	return 0, errStoreDown
}
func (brokenStore) Count(context.Context, string) (int64, error) {
	return 0, errStoreDown
}

// hungStore blocks every operation until the caller's context expires,
// standing in for a shared store that hangs instead of erroring out.
type hungStore struct{}

func (hungStore) GetBucket(ctx context.Context, _ string) (store.BucketRecord, bool, error) {
	<-ctx.Done()
	return store.BucketRecord{}, false, ctx.Err()
}
func (hungStore) UpdateBucket(ctx context.Context, _ string, _ time.Duration, _ store.UpdateFunc) error {
	<-ctx.Done()
	return ctx.Err()
}
func (hungStore) Incr(ctx context.Context, _ string, _ time.Duration) (int64, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}
func (hungStore) Count(ctx context.Context, _ string) (int64, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestCheckAndIncrement_IncrementThenCompare(t *testing.T) {
	ctx := context.Background()
	m := New(store.NewMemoryStore(), WithClock(clock.NewManual(testStart)))

	for i := 0; i < 3; i++ {
		within, err := m.CheckAndIncrement(ctx, "u1", "emails_sent", 3, Daily)
		if err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		if !within {
			t.Fatalf("check %d should be within a limit of 3", i)
		}
	}

	within, err := m.CheckAndIncrement(ctx, "u1", "emails_sent", 3, Daily)
	if err != nil {
		t.Fatal(err)
	}
	if within {
		t.Fatal("4th check against limit 3 should be over quota")
	}

	// The caller is charged for the attempt even when over quota.
	usage, err := m.Usage(ctx, "u1", "emails_sent", Daily)
	if err != nil {
		t.Fatal(err)
	}
	if usage.Used != 4 {
		t.Errorf("expected 4 recorded attempts, got %d", usage.Used)
	}
}

func TestCheckAndIncrement_RaceSafety(t *testing.T) {
	ctx := context.Background()
	m := New(store.NewMemoryStore(), WithClock(clock.NewManual(testStart)))

	const callers = 50
	const limit = 10

	within := make([]bool, callers)
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := range within {
		i := i
		go func() {
			defer wg.Done()
			ok, err := m.CheckAndIncrement(ctx, "tenant-1", "api_calls", limit, Daily)
			if err != nil {
				t.Error(err)
				return
			}
			within[i] = ok
		}()
	}
	wg.Wait()

	var granted int
	for _, ok := range within {
		if ok {
			granted++
		}
	}
	if granted != limit {
		t.Errorf("expected exactly %d of %d concurrent checks within quota, got %d", limit, callers, granted)
	}

	usage, _ := m.Usage(ctx, "tenant-1", "api_calls", Daily)
	if usage.Used != callers {
		t.Errorf("expected all %d attempts recorded, got %d", callers, usage.Used)
	}
}

func TestCheckAndIncrement_PeriodRolloverIsolated(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC))
	m := New(store.NewMemoryStore(), WithClock(clk))

	for i := 0; i < 5; i++ {
		if _, err := m.CheckAndIncrement(ctx, "u1", "emails_sent", 100, Daily); err != nil {
			t.Fatal(err)
		}
	}
	day1, _ := m.Usage(ctx, "u1", "emails_sent", Daily)
	if day1.Used != 5 || day1.PeriodKey != "2026-03-01" {
		t.Fatalf("day 1: %+v", day1)
	}

	// Cross midnight: a new period key, a fresh counter, no reset logic.
	clk.Advance(2 * time.Hour)
	day2, err := m.Usage(ctx, "u1", "emails_sent", Daily)
	if err != nil {
		t.Fatal(err)
	}
	if day2.PeriodKey != "2026-03-02" {
		t.Errorf("expected period key 2026-03-02, got %q", day2.PeriodKey)
	}
	if day2.Used != 0 {
		t.Errorf("new period should start from zero, got %d", day2.Used)
	}

	if _, err := m.CheckAndIncrement(ctx, "u1", "emails_sent", 100, Daily); err != nil {
		t.Fatal(err)
	}
	day2, _ = m.Usage(ctx, "u1", "emails_sent", Daily)
	if day2.Used != 1 {
		t.Errorf("expected 1 on day 2, got %d", day2.Used)
	}
}

func TestCheckAndIncrement_ScopesAndTypesIsolated(t *testing.T) {
	ctx := context.Background()
	m := New(store.NewMemoryStore(), WithClock(clock.NewManual(testStart)))

	m.CheckAndIncrement(ctx, "u1", "emails_sent", 10, Daily)
	m.CheckAndIncrement(ctx, "u1", "emails_sent", 10, Daily)
	m.CheckAndIncrement(ctx, "u1", "workflow_runs", 10, Daily)
	m.CheckAndIncrement(ctx, "u2", "emails_sent", 10, Daily)
	m.CheckAndIncrement(ctx, "u1", "emails_sent", 10, Monthly)

	cases := []struct {
		scope, quotaType string
		period           Period
		want             int64
	}{
		{"u1", "emails_sent", Daily, 2},
		{"u1", "workflow_runs", Daily, 1},
		{"u2", "emails_sent", Daily, 1},
		{"u1", "emails_sent", Monthly, 1},
	}
	for _, c := range cases {
		usage, err := m.Usage(ctx, c.scope, c.quotaType, c.period)
		if err != nil {
			t.Fatal(err)
		}
		if usage.Used != c.want {
			t.Errorf("%s/%s/%s: expected %d, got %d", c.scope, c.quotaType, c.period, c.want, usage.Used)
		}
	}
}

func TestCheckAndIncrement_UnknownPeriod(t *testing.T) {
	m := New(store.NewMemoryStore())
	if _, err := m.CheckAndIncrement(context.Background(), "u1", "emails_sent", 10, Period("hourly")); !errors.Is(err, ErrUnknownPeriod) {
		t.Errorf("expected ErrUnknownPeriod, got %v", err)
	}
	if _, err := m.Usage(context.Background(), "u1", "emails_sent", Period("hourly")); !errors.Is(err, ErrUnknownPeriod) {
		t.Errorf("expected ErrUnknownPeriod, got %v", err)
	}
}

func TestCheckAndIncrement_FallsBackToLocal(t *testing.T) {
	ctx := context.Background()
	m := New(brokenStore{}, WithClock(clock.NewManual(testStart)))

	// Same increment-then-compare semantics against local state.
	for i := 0; i < 2; i++ {
		within, err := m.CheckAndIncrement(ctx, "u1", "emails_sent", 2, Daily)
		if err != nil {
			t.Fatal(err)
		}
		if !within {
			t.Fatalf("check %d should be within quota on the fallback path", i)
		}
	}
	within, err := m.CheckAndIncrement(ctx, "u1", "emails_sent", 2, Daily)
	if err != nil {
		t.Fatal(err)
	}
	if within {
		t.Error("3rd check against limit 2 should be over quota on the fallback path")
	}

	usage, err := m.Usage(ctx, "u1", "emails_sent", Daily)
	if err != nil {
		t.Fatal(err)
	}
	if usage.Used != 3 {
		t.Errorf("expected 3 local attempts recorded, got %d", usage.Used)
	}
}

func TestCheckAndIncrement_TimeoutFallsBackToLocal(t *testing.T) {
	ctx := context.Background()
	m := New(hungStore{}, WithClock(clock.NewManual(testStart)),
		WithTimeout(5*time.Millisecond))

	// A hung store must cost at most the configured timeout per check; the
	// counter then lives in local state with unchanged semantics.
	start := time.Now()
	for i := 0; i < 2; i++ {
		within, err := m.CheckAndIncrement(ctx, "u1", "emails_sent", 2, Daily)
		if err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		if !within {
			t.Fatalf("check %d should be within quota via local state", i)
		}
	}
	within, err := m.CheckAndIncrement(ctx, "u1", "emails_sent", 2, Daily)
	if err != nil {
		t.Fatal(err)
	}
	if within {
		t.Error("3rd check against limit 2 should be over quota")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("three checks against a hung store took %v, expected ~15ms of timeouts", elapsed)
	}
}

func TestCheckAndIncrement_FailsOpenWhenBothStoresDown(t *testing.T) {
	m := New(brokenStore{}, WithLocalStore(brokenStore{}))

	within, err := m.CheckAndIncrement(context.Background(), "u1", "emails_sent", 0, Daily)
	if err != nil {
		t.Fatal(err)
	}
	if !within {
		t.Error("quota must fail open when no store is usable")
	}
}

func TestUsage_ResetBoundary(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC))
	m := New(store.NewMemoryStore(), WithClock(clk))

	usage, err := m.Usage(ctx, "u1", "emails_sent", Daily)
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	if !usage.ResetsAt.Equal(want) {
		t.Errorf("expected reset at %v, got %v", want, usage.ResetsAt)
	}
	if usage.Used != 0 {
		t.Errorf("fresh scope should read 0, got %d", usage.Used)
	}
}
