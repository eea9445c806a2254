package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"questingbots.ai/internal/sim/simclock"
)

func TestRunner_StepHonorsBudget(t *testing.T) {
	clk := simclock.NewManual(time.Unix(0, 0))
	var seen []int
	r := NewRunner([]int{1, 2, 3, 4, 5}, func(v int) {
		seen = append(seen, v)
		clk.Advance(2 * time.Millisecond)
	}, clk, 5*time.Millisecond)

	assert.False(t, r.Step())
	assert.Equal(t, []int{1, 2, 3}, seen)
	done, total := r.Progress()
	assert.Equal(t, 3, done)
	assert.Equal(t, 5, total)

	assert.True(t, r.Step())
	assert.Equal(t, []int{1, 2, 3, 4, 5}, seen)
	assert.True(t, r.Done())
	assert.True(t, r.Step())
}

func TestRunner_AlwaysMakesProgress(t *testing.T) {
	clk := simclock.NewManual(time.Unix(0, 0))
	n := 0
	r := NewRunner([]string{"a", "b"}, func(string) {
		n++
		clk.Advance(time.Second)
	}, clk, 0)
	assert.False(t, r.Step())
	assert.Equal(t, 1, n)
	assert.True(t, r.Step())
	assert.Equal(t, 2, n)
}

func TestRunner_EmptyIsDone(t *testing.T) {
	r := NewRunner[int](nil, func(int) { t.Fatal("called") }, nil, time.Millisecond)
	assert.True(t, r.Done())
	assert.True(t, r.Step())
}

func TestRunner_Run(t *testing.T) {
	sum := 0
	r := NewRunner([]int{1, 2, 3}, func(v int) { sum += v }, nil, 0)
	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, 6, sum)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r = NewRunner([]int{1, 2, 3}, func(int) {}, simclock.NewManual(time.Unix(0, 0)), -1)
	assert.ErrorIs(t, r.Run(ctx), context.Canceled)
}
