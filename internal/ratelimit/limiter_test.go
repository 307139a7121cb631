package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var pdf = Category{Name: "pdf_full", Limit: 3, Window: 60 * time.Second}

func TestCheckBoundary(t *testing.T) {
	clock := newFakeClock()
	l := New(WithClock(clock.Now))

	for i := 0; i < 3; i++ {
		out := l.Check("tg:1", pdf)
		require.True(t, out.Allowed, "check %d", i+1)
		assert.Zero(t, out.Wait)
	}

	out := l.Check("tg:1", pdf)
	require.False(t, out.Allowed)
	assert.Equal(t, 60*time.Second, out.Wait)
	assert.Equal(t, 60, out.WaitSeconds())

	clock.Advance(20500 * time.Millisecond)
	out = l.Check("tg:1", pdf)
	require.False(t, out.Allowed)
	assert.Equal(t, 40, out.WaitSeconds(), "39.5s rounds up")

	clock.Advance(40 * time.Second)
	out = l.Check("tg:1", pdf)
	require.True(t, out.Allowed, "window elapsed")

	// The new window started at count 1, so two more fit.
	assert.True(t, l.Check("tg:1", pdf).Allowed)
	assert.True(t, l.Check("tg:1", pdf).Allowed)
	assert.False(t, l.Check("tg:1", pdf).Allowed)
}

func TestCheckWindowEdge(t *testing.T) {
	clock := newFakeClock()
	l := New(WithClock(clock.Now))
	one := Category{Name: "x", Limit: 1, Window: time.Minute}

	require.True(t, l.Check("u", one).Allowed)
	clock.Advance(time.Minute - time.Nanosecond)
	require.False(t, l.Check("u", one).Allowed)
	clock.Advance(time.Nanosecond)
	require.True(t, l.Check("u", one).Allowed, "elapsed == window resets")
}

func TestCheckIndependence(t *testing.T) {
	clock := newFakeClock()
	l := New(WithClock(clock.Now))
	page := Category{Name: "pdf_page", Limit: 3, Window: 10 * time.Minute}

	for i := 0; i < 3; i++ {
		require.True(t, l.Check("tg:1", pdf).Allowed)
	}
	require.False(t, l.Check("tg:1", pdf).Allowed)

	assert.True(t, l.Check("tg:2", pdf).Allowed, "other subject")
	assert.True(t, l.Check("wa:1", pdf).Allowed, "same id on other platform")
	assert.True(t, l.Check("tg:1", page).Allowed, "other category")
	assert.Equal(t, 4, l.Len())
}

func TestCheckConcurrent(t *testing.T) {
	const extra = 40
	l := New()
	c := Category{Name: "image_page", Limit: 25, Window: time.Hour}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
		denied  int
	)
	start := make(chan struct{})
	for i := 0; i < c.Limit+extra; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			out := l.Check("tg:42", c)
			mu.Lock()
			defer mu.Unlock()
			if out.Allowed {
				allowed++
			} else {
				denied++
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, c.Limit, allowed)
	assert.Equal(t, extra, denied)

	a, d := l.Counts()
	assert.EqualValues(t, c.Limit, a)
	assert.EqualValues(t, extra, d)
}

func TestCheckDisabled(t *testing.T) {
	l := New()
	for _, c := range []Category{
		{Name: "zero-limit", Limit: 0, Window: time.Minute},
		{Name: "zero-window", Limit: 1, Window: 0},
	} {
		for i := 0; i < 10; i++ {
			require.True(t, l.Check("u", c).Allowed, c.Name)
		}
	}
	assert.Zero(t, l.Len(), "disabled categories keep no state")
}

func TestSweep(t *testing.T) {
	clock := newFakeClock()
	l := New(WithClock(clock.Now))
	short := Category{Name: "short", Limit: 5, Window: time.Minute}
	long := Category{Name: "long", Limit: 5, Window: time.Hour}

	l.Check("a", short)
	l.Check("b", short)
	l.Check("a", long)
	require.Equal(t, 3, l.Len())

	assert.Zero(t, l.Sweep(), "nothing expired yet")

	clock.Advance(2 * time.Minute)
	assert.Equal(t, 2, l.Sweep())
	assert.Equal(t, 1, l.Len())

	clock.Advance(time.Hour)
	assert.Equal(t, 1, l.Sweep())
	assert.Zero(t, l.Len())
}

func TestRunStopsOnCancel(t *testing.T) {
	clock := newFakeClock()
	l := New(WithClock(clock.Now))
	l.Check("a", pdf)
	clock.Advance(2 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx, time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return l.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestWaitSeconds(t *testing.T) {
	tests := []struct {
		wait time.Duration
		want int
	}{
		{0, 0},
		{-time.Second, 0},
		{time.Nanosecond, 1},
		{time.Second, 1},
		{1500 * time.Millisecond, 2},
		{10 * time.Minute, 600},
	}
	for _, tt := range tests {
		if got := (Outcome{Wait: tt.wait}).WaitSeconds(); got != tt.want {
			t.Errorf("WaitSeconds(%v) = %d, want %d", tt.wait, got, tt.want)
		}
	}
}
