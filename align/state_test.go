package align

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutcomeTrackerPutGet(t *testing.T) {
	ot := NewOutcomeTracker(4)
	_, ok := ot.Latest()
	assert.False(t, ok)

	ot.Put(&AlignOutcome{SessionID: "a", Target: Dims{Width: 1}})
	ot.Put(&AlignOutcome{SessionID: "b", Target: Dims{Width: 2}})

	got, ok := ot.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1.0, got.Target.Width)

	latest, ok := ot.Latest()
	require.True(t, ok)
	assert.Equal(t, "b", latest.SessionID)

	_, ok = ot.Get("missing")
	assert.False(t, ok)
}

func TestOutcomeTrackerReturnsCopies(t *testing.T) {
	ot := NewOutcomeTracker(4)
	ot.Put(&AlignOutcome{SessionID: "a", Target: Dims{Width: 1}})

	got, _ := ot.Get("a")
	got.Target.Width = 99

	again, _ := ot.Get("a")
	assert.Equal(t, 1.0, again.Target.Width)
}

func TestOutcomeTrackerEvictsOldest(t *testing.T) {
	ot := NewOutcomeTracker(2)
	for _, id := range []string{"a", "b", "c"} {
		ot.Put(&AlignOutcome{SessionID: id})
	}
	assert.Equal(t, 2, ot.Len())
	assert.Equal(t, []string{"b", "c"}, ot.IDs())
	_, ok := ot.Get("a")
	assert.False(t, ok)

	// replacing an existing id does not grow the tracker
	ot.Put(&AlignOutcome{SessionID: "b", Placeholder: true})
	assert.Equal(t, 2, ot.Len())
	got, _ := ot.Get("b")
	assert.True(t, got.Placeholder)
}

func TestOutcomeTrackerConcurrency(t *testing.T) {
	ot := NewOutcomeTracker(0)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			ot.Put(&AlignOutcome{SessionID: fmt.Sprintf("s-%d", i)})
		}(i)
		go func() {
			defer wg.Done()
			ot.Latest()
			ot.IDs()
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, ot.Len())
}
