package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequence_StartsAfterStart(t *testing.T) {
	seq := NewSequence(100)
	assert.Equal(t, int64(100), seq.Current())
	assert.Equal(t, int64(101), seq.Next())
	assert.Equal(t, int64(102), seq.Next())
	assert.Equal(t, int64(102), seq.Current())
}

func TestSequence_Reset(t *testing.T) {
	seq := NewSequence(0)
	seq.Next()
	seq.Next()

	seq.Reset(10)
	assert.Equal(t, int64(10), seq.Current())
	assert.Equal(t, int64(11), seq.Next())
}

func TestSequence_ThreadSafe(t *testing.T) {
	seq := NewSequence(0)
	const workers = 50
	const calls = 100

	var wg sync.WaitGroup
	wg.Add(workers)

	results := make([][]int64, workers)
	for i := 0; i < workers; i++ {
		results[i] = make([]int64, calls)
		go func(idx int) {
			defer wg.Done()
			for j := 0; j < calls; j++ {
				results[idx][j] = seq.Next()
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]bool)
	for _, row := range results {
		for _, v := range row {
			require.False(t, seen[v], "duplicate value %d", v)
			seen[v] = true
		}
	}
	assert.Len(t, seen, workers*calls)
}
