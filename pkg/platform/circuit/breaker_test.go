package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type outcome int

const (
	fail outcome = iota
	succeed
)

func TestBreakerTransitions(t *testing.T) {
	tests := []struct {
		name       string
		opts       []Option
		outcomes   []outcome
		wantOpen   bool
		wantOpened int
		wantClosed int
	}{
		{
			name:     "stays closed below failure threshold",
			opts:     []Option{WithFailureThreshold(3)},
			outcomes: []outcome{fail, fail},
		},
		{
			name:       "opens on threshold",
			opts:       []Option{WithFailureThreshold(3)},
			outcomes:   []outcome{fail, fail, fail},
			wantOpen:   true,
			wantOpened: 1,
		},
		{
			name:     "success clears failure streak",
			opts:     []Option{WithFailureThreshold(3)},
			outcomes: []outcome{fail, fail, succeed, fail, fail},
		},
		{
			name:       "failures while open do not reopen",
			opts:       []Option{WithFailureThreshold(1)},
			outcomes:   []outcome{fail, fail, fail},
			wantOpen:   true,
			wantOpened: 1,
		},
		{
			name:       "closes after success threshold",
			opts:       []Option{WithFailureThreshold(1), WithSuccessThreshold(2)},
			outcomes:   []outcome{fail, succeed, succeed},
			wantOpened: 1,
			wantClosed: 1,
		},
		{
			name:       "failure while open restarts success streak",
			opts:       []Option{WithFailureThreshold(1), WithSuccessThreshold(2)},
			outcomes:   []outcome{fail, succeed, fail, succeed},
			wantOpen:   true,
			wantOpened: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New("push", tt.opts...)
			var opened, closed int
			for _, o := range tt.outcomes {
				var change StateChange
				if o == fail {
					_, change = b.RecordFailure()
				} else {
					_, change = b.RecordSuccess()
				}
				if change.Opened {
					opened++
				}
				if change.Closed {
					closed++
				}
			}
			assert.Equal(t, tt.wantOpen, b.IsOpen())
			assert.Equal(t, tt.wantOpened, opened)
			assert.Equal(t, tt.wantClosed, closed)
		})
	}
}

func TestBreakerReportsFallback(t *testing.T) {
	b := New("push", WithFailureThreshold(2))
	require.Equal(t, "push", b.Name())
	require.Equal(t, "closed", b.State().String())

	useFallback, _ := b.RecordFailure()
	assert.False(t, useFallback)
	useFallback, _ = b.RecordFailure()
	assert.True(t, useFallback)
	assert.Equal(t, "open", b.State().String())

	usePrimary, _ := b.RecordSuccess()
	assert.False(t, usePrimary, "one success is not enough to close")
}

func TestBreakerAllowProbesOncePerCooldown(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	b := New("push", WithFailureThreshold(1), WithCooldown(time.Minute), WithClock(func() time.Time { return now }))

	assert.True(t, b.Allow())
	b.RecordFailure()
	assert.False(t, b.Allow(), "no probe inside cooldown")

	now = now.Add(time.Minute)
	assert.True(t, b.Allow(), "first probe after cooldown")
	assert.False(t, b.Allow(), "second probe in same window")
}
