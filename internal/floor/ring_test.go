package floor

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func outcomes(r *CycleRing) []string {
	var reasons []string
	for _, o := range r.Recent() {
		reasons = append(reasons, o.Reason)
	}
	return reasons
}

func TestCycleRingPartialFill(t *testing.T) {
	r := NewCycleRing(4)
	r.Push(CycleOutcome{Reason: "a"})
	r.Push(CycleOutcome{Reason: "b"})

	assert.Equal(t, 2, r.Len())
	assert.Equal(t, []string{"a", "b"}, outcomes(r))
}

func TestCycleRingWrapKeepsNewest(t *testing.T) {
	r := NewCycleRing(3)
	for i := 1; i <= 5; i++ {
		r.Push(CycleOutcome{Reason: fmt.Sprintf("c%d", i)})
	}

	// Вместимость 3, затерлись c1 и c2; порядок от старых к новым
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, []string{"c3", "c4", "c5"}, outcomes(r))
}

func TestCycleRingExactCapacity(t *testing.T) {
	r := NewCycleRing(2)
	r.Push(CycleOutcome{Reason: "a"})
	r.Push(CycleOutcome{Reason: "b"})

	assert.Equal(t, 2, r.Len())
	assert.Equal(t, []string{"a", "b"}, outcomes(r))
}

func TestCycleRingDefaultCapacity(t *testing.T) {
	r := NewCycleRing(0)
	for i := 0; i < 100; i++ {
		r.Push(CycleOutcome{})
	}
	assert.Equal(t, 64, r.Len())
}
