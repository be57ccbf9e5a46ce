// Package quota tracks the content API budget for one process: the
// upstream's short rate-limit window (learned from response headers) and a
// locally counted monthly allowance.
//
// Features:
//   - Pre-flight throttle that waits out a nearly exhausted window
//   - Minimum spacing between any two upstream calls
//   - Monthly ceiling enforced before the network is touched
//   - In-flight reservations so concurrent callers cannot overshoot the ceiling
//
// Notes:
//   - State is process-local and lost on restart. The monthly counter also
//     resets when the UTC calendar month changes.
//   - All mutations happen under one mutex; a one-slot semaphore serializes
//     callers through the throttle so their calls are spaced as well, and a
//     queued caller can still give up when its context ends.
package quota

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrExhausted is returned by Acquire when the monthly ceiling is reached.
var ErrExhausted = errors.New("monthly quota ceiling reached")

// Config holds throttle parameters. Zero fields take the defaults below.
type Config struct {
	MinInterval      time.Duration // spacing between calls; 0 disables spacing
	MonthlyLimit     int           // plan allowance, default 100
	MonthlyCeiling   int           // local hard stop, default 95
	InitialRemaining int           // assumed window budget before any header, default 10
	LowWatermark     int           // wait for reset at or below this, default 2
	ResetPadding     time.Duration // added after the reset instant, default 1s
}

func (c Config) withDefaults() Config {
	if c.MonthlyLimit <= 0 {
		c.MonthlyLimit = 100
	}
	if c.MonthlyCeiling <= 0 || c.MonthlyCeiling > c.MonthlyLimit {
		c.MonthlyCeiling = c.MonthlyLimit * 95 / 100
	}
	if c.InitialRemaining <= 0 {
		c.InitialRemaining = 10
	}
	if c.LowWatermark <= 0 {
		c.LowWatermark = 2
	}
	if c.ResetPadding <= 0 {
		c.ResetPadding = time.Second
	}
	if c.MinInterval < 0 {
		c.MinInterval = 0
	}
	return c
}

// Stats is a point-in-time copy of the quota counters.
type Stats struct {
	MonthlyUsage       int     `json:"monthly_usage"`
	MonthlyLimit       int     `json:"monthly_limit"`
	MonthlyCeiling     int     `json:"monthly_ceiling"`
	InFlight           int     `json:"in_flight"`
	RateLimitRemaining int     `json:"rate_limit_remaining"`
	RateLimitResetTime int64   `json:"rate_limit_reset_time"`
	LastRequestTime    int64   `json:"last_request_time"`
	UsagePercentage    float64 `json:"usage_percentage"`
}

// State is the shared quota bookkeeping of one extractor instance.
// It is safe for concurrent use.
type State struct {
	cfg   Config
	clock Clock

	gate *semaphore.Weighted // held across the pre-flight wait

	mu          sync.Mutex
	remaining   int
	resetAt     time.Time
	lastRequest time.Time
	monthly     int
	pending     int
	period      int // year*12+month of the monthly counter
}

// New returns a State with fresh counters. A nil clock means SystemClock.
func New(cfg Config, clock Clock) *State {
	if clock == nil {
		clock = SystemClock{}
	}
	cfg = cfg.withDefaults()
	return &State{
		cfg:       cfg,
		clock:     clock,
		gate:      semaphore.NewWeighted(1),
		remaining: cfg.InitialRemaining,
		period:    periodOf(clock.Now()),
	}
}

func periodOf(t time.Time) int {
	t = t.UTC()
	return t.Year()*12 + int(t.Month())
}

// rollover resets the monthly counter when the calendar month changed.
// Caller holds s.mu.
func (s *State) rollover(now time.Time) {
	if p := periodOf(now); p != s.period {
		s.period = p
		s.monthly = 0
	}
}

// Reservation is one granted upstream call. Exactly one of Commit or Release
// should be called when the call finishes; later calls are no-ops.
type Reservation struct {
	s    *State
	once sync.Once
}

// Acquire blocks until the throttle allows one upstream call and reserves it
// against the monthly ceiling. It fails with ErrExhausted without waiting
// when the ceiling is already reached, or with ctx.Err() if ctx ends while
// waiting, including while queued behind another caller's wait.
//
// Waits are:
//   - until the window reset (+ padding) when the reset is in the future and
//     the remaining budget is at or below the low watermark;
//   - until MinInterval has passed since the previous call.
func (s *State) Acquire(ctx context.Context) (*Reservation, error) {
	if err := s.gate.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.gate.Release(1)

	s.mu.Lock()
	now := s.clock.Now()
	s.rollover(now)
	if s.monthly+s.pending >= s.cfg.MonthlyCeiling {
		s.mu.Unlock()
		return nil, ErrExhausted
	}
	var wait time.Duration
	windowReset := false
	if s.remaining <= s.cfg.LowWatermark && s.resetAt.After(now) {
		wait = s.resetAt.Sub(now) + s.cfg.ResetPadding
		windowReset = true
	}
	if !s.lastRequest.IsZero() {
		if gap := s.cfg.MinInterval - now.Sub(s.lastRequest); gap > wait {
			wait = gap
		}
	}
	s.mu.Unlock()

	if wait > 0 {
		if err := s.clock.Sleep(ctx, wait); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	if windowReset {
		s.remaining = s.cfg.InitialRemaining
	}
	s.lastRequest = s.clock.Now()
	s.pending++
	s.mu.Unlock()

	return &Reservation{s: s}, nil
}

// Commit records a successful call: the monthly counter grows by one and the
// rate-limit headers, if any, refresh the window.
func (r *Reservation) Commit(h http.Header) {
	r.finish(h, true)
}

// Release frees the reservation without counting it. Headers from the
// failed response (e.g. a 429) still refresh the window.
func (r *Reservation) Release(h http.Header) {
	r.finish(h, false)
}

func (r *Reservation) finish(h http.Header, counted bool) {
	if r == nil {
		return
	}
	r.once.Do(func() {
		s := r.s
		s.mu.Lock()
		defer s.mu.Unlock()
		s.pending--
		s.absorb(h)
		if counted {
			s.rollover(s.clock.Now())
			s.monthly++
		}
	})
}

// absorb reads x-rate-limit-remaining and x-rate-limit-reset (epoch seconds).
// Malformed values are ignored. Caller holds s.mu.
func (s *State) absorb(h http.Header) {
	if h == nil {
		return
	}
	if v := strings.TrimSpace(h.Get("x-rate-limit-remaining")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			s.remaining = n
		}
	}
	if v := strings.TrimSpace(h.Get("x-rate-limit-reset")); v != "" {
		if sec, err := strconv.ParseInt(v, 10, 64); err == nil && sec > 0 {
			s.resetAt = time.Unix(sec, 0)
		}
	}
}

// Stats returns a snapshot of the counters.
func (s *State) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollover(s.clock.Now())

	st := Stats{
		MonthlyUsage:       s.monthly,
		MonthlyLimit:       s.cfg.MonthlyLimit,
		MonthlyCeiling:     s.cfg.MonthlyCeiling,
		InFlight:           s.pending,
		RateLimitRemaining: s.remaining,
		UsagePercentage:    math.Round(float64(s.monthly)/float64(s.cfg.MonthlyLimit)*1000) / 10,
	}
	if !s.resetAt.IsZero() {
		st.RateLimitResetTime = s.resetAt.Unix()
	}
	if !s.lastRequest.IsZero() {
		st.LastRequestTime = s.lastRequest.Unix()
	}
	return st
}
