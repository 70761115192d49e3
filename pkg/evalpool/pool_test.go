/*
Copyright 2025 The llm-d Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

//nolint:testpackage // need to test internal types
package evalpool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dannyavrs/encapure/pkg/apperrors"
)

// newTestPool builds a Pool with no real ONNX sessions, enough to
// exercise the slot-queue invariant in isolation from the runtime.
func newTestPool(size int) *Pool {
	p := &Pool{
		slots: make(chan int, size),
	}
	for i := 0; i < size; i++ {
		p.slots <- i
	}
	return p
}

func TestAcquireReleaseSlotConservation(t *testing.T) {
	p := newTestPool(4)

	seen := map[int]bool{}
	var held []int
	for i := 0; i < 4; i++ {
		idx, err := p.Acquire()
		require.NoError(t, err)
		assert.False(t, seen[idx], "slot %d handed out twice while outstanding", idx)
		seen[idx] = true
		held = append(held, idx)
	}

	_, err := p.Acquire()
	require.Error(t, err)
	assert.True(t, apperrors.AsKind(err, apperrors.Resource))

	for _, idx := range held {
		p.Release(idx)
	}

	// After releasing every held slot, the queue must again contain
	// exactly {0,1,2,3}, in some order.
	final := map[int]bool{}
	for i := 0; i < 4; i++ {
		idx, err := p.Acquire()
		require.NoError(t, err)
		final[idx] = true
	}
	assert.Equal(t, map[int]bool{0: true, 1: true, 2: true, 3: true}, final)
}

func TestAcquireFailsFastNeverBlocks(t *testing.T) {
	p := newTestPool(1)
	idx, err := p.Acquire()
	require.NoError(t, err)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := p.Acquire()
		assert.Error(t, err)
		close(done)
	}()
	wg.Wait()
	<-done

	p.Release(idx)
}

func TestL2NormalizeZeroRowStaysZero(t *testing.T) {
	v := make([]float32, 8)
	l2Normalize(v)
	for _, x := range v {
		assert.Equal(t, float32(0), x)
	}
}

func TestL2NormalizeUnitNorm(t *testing.T) {
	v := []float32{3, 4}
	l2Normalize(v)
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, sumSq, 1e-5)
}

func TestFlatten(t *testing.T) {
	rows := [][]int64{{1, 2}, {3, 4}, {5, 6}}
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6}, flatten(rows))
	assert.Nil(t, flatten(nil))
}
