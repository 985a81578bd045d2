package idgen

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateUniqueAndIncreasing(t *testing.T) {
	s, err := New(7)
	require.NoError(t, err)

	prev := int64(0)
	for i := 0; i < 10000; i++ {
		id := s.Generate()
		require.Greater(t, id, prev)
		prev = id
	}
}

func TestGenerateConcurrent(t *testing.T) {
	s, err := New(3)
	require.NoError(t, err)

	var (
		mu   sync.Mutex
		seen = make(map[int64]bool)
		wg   sync.WaitGroup
	)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				id := s.Generate()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 8000)
}

func TestNewRejectsWorkerOutOfRange(t *testing.T) {
	_, err := New(-1)
	assert.Error(t, err)
	_, err = New(maxWorkerID + 1)
	assert.Error(t, err)
}

func TestNumberPrefixes(t *testing.T) {
	assert.True(t, strings.HasPrefix(GenerateOrderNo(), "PAY"))
	assert.True(t, strings.HasPrefix(GenerateTransactionNo(), "TXN"))
	assert.NotEqual(t, GenerateTransactionNo(), GenerateTransactionNo())
}
