package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

type recSleeper struct {
	waits []time.Duration
	err   error
}

func (r *recSleeper) sleep(_ context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return r.err
}

var errTransient = errors.New("transient")

func TestDo_SucceedsFirstTry(t *testing.T) {
	rs := &recSleeper{}
	p := Policy{MaxAttempts: 3, Backoff: Exponential(time.Second), Sleep: rs.sleep}
	n, err := p.Do(context.Background(), func(context.Context, int) error { return nil })
	if err != nil || n != 1 {
		t.Fatalf("Do = (%d, %v); want (1, nil)", n, err)
	}
	if len(rs.waits) != 0 {
		t.Fatalf("no waits expected, got %v", rs.waits)
	}
}

func TestDo_ExponentialBackoff_ThenExhausted(t *testing.T) {
	rs := &recSleeper{}
	p := Policy{MaxAttempts: 3, Backoff: Exponential(time.Second), Sleep: rs.sleep}
	calls := 0
	n, err := p.Do(context.Background(), func(_ context.Context, attempt int) error {
		if attempt != calls {
			t.Fatalf("attempt index %d; want %d", attempt, calls)
		}
		calls++
		return errTransient
	})
	if !errors.Is(err, errTransient) || n != 3 || calls != 3 {
		t.Fatalf("Do = (%d, %v), calls=%d; want (3, transient), 3", n, err, calls)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(rs.waits) != len(want) || rs.waits[0] != want[0] || rs.waits[1] != want[1] {
		t.Fatalf("waits = %v; want %v", rs.waits, want)
	}
}

func TestDo_DelayFromErrorOverridesBackoff(t *testing.T) {
	rs := &recSleeper{}
	p := Policy{MaxAttempts: 3, Backoff: Exponential(time.Second), Sleep: rs.sleep}
	n, err := p.Do(context.Background(), func(_ context.Context, attempt int) error {
		if attempt < 2 {
			return After(errTransient, 60*time.Second)
		}
		return nil
	})
	if err != nil || n != 3 {
		t.Fatalf("Do = (%d, %v); want (3, nil)", n, err)
	}
	if len(rs.waits) != 2 || rs.waits[0] != 60*time.Second || rs.waits[1] != 60*time.Second {
		t.Fatalf("waits = %v; want two 60s waits", rs.waits)
	}
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	fatal := errors.New("fatal")
	rs := &recSleeper{}
	p := Policy{
		MaxAttempts: 3,
		Retryable:   func(err error) bool { return !errors.Is(err, fatal) },
		Sleep:       rs.sleep,
	}
	n, err := p.Do(context.Background(), func(context.Context, int) error { return fatal })
	if !errors.Is(err, fatal) || n != 1 {
		t.Fatalf("Do = (%d, %v); want (1, fatal)", n, err)
	}
	if len(rs.waits) != 0 {
		t.Fatalf("non-retryable error must not wait")
	}
}

func TestDo_SleepErrorAborts(t *testing.T) {
	rs := &recSleeper{err: context.Canceled}
	p := Policy{MaxAttempts: 3, Sleep: rs.sleep}
	n, err := p.Do(context.Background(), func(context.Context, int) error { return errTransient })
	if !errors.Is(err, context.Canceled) || n != 1 {
		t.Fatalf("Do = (%d, %v); want (1, canceled)", n, err)
	}
}

func TestDo_ZeroPolicySingleAttempt(t *testing.T) {
	calls := 0
	n, err := Policy{}.Do(context.Background(), func(context.Context, int) error {
		calls++
		return errTransient
	})
	if calls != 1 || n != 1 || !errors.Is(err, errTransient) {
		t.Fatalf("zero policy: calls=%d n=%d err=%v", calls, n, err)
	}
}

func TestDo_OnRetryHook(t *testing.T) {
	var seen []int
	p := Policy{
		MaxAttempts: 3,
		Backoff:     func(int) time.Duration { return 0 },
		Sleep:       func(context.Context, time.Duration) error { return nil },
		OnRetry:     func(attempt int, _ error, _ time.Duration) { seen = append(seen, attempt) },
	}
	_, _ = p.Do(context.Background(), func(context.Context, int) error { return errTransient })
	if len(seen) != 2 || seen[0] != 0 || seen[1] != 1 {
		t.Fatalf("OnRetry attempts = %v; want [0 1]", seen)
	}
}

func TestAfter_And_DelayOf(t *testing.T) {
	if After(nil, time.Second) != nil {
		t.Fatalf("After(nil) should be nil")
	}
	err := After(errTransient, 5*time.Second)
	if !errors.Is(err, errTransient) || err.Error() != "transient" {
		t.Fatalf("After should wrap transparently: %v", err)
	}
	if d, ok := DelayOf(err); !ok || d != 5*time.Second {
		t.Fatalf("DelayOf = (%v, %v)", d, ok)
	}
	if _, ok := DelayOf(errTransient); ok {
		t.Fatalf("plain error has no delay")
	}
}

func TestTimerSleep_HonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := timerSleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
	if err := timerSleep(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("short sleep: %v", err)
	}
}
