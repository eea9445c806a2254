package simclock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManual_AdvanceIsSafeForConcurrentUse(t *testing.T) {
	start := time.Unix(1_000, 0)
	m := NewManual(start)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Advance(time.Second)
			_ = m.Now()
		}()
	}
	wg.Wait()
	assert.Equal(t, start.Add(10*time.Second), m.Now())
}
