package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCronFieldCounts(t *testing.T) {
	base := time.Date(2025, 6, 10, 8, 30, 0, 0, time.UTC)

	five, err := ParseCron("0 9 * * *")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC), five.Next(base))

	six, err := ParseCron("30 0 12 * * ?")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 10, 12, 0, 30, 0, time.UTC), six.Next(base))

	_, err = ParseCron("")
	require.Error(t, err)
	_, err = ParseCron("* * *")
	require.Error(t, err)
}

func TestCandidatesStrictlyIncreasing(t *testing.T) {
	schedule, err := ParseCron("*/20 * * * *")
	require.NoError(t, err)
	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	it := NewCandidates(schedule, from)
	prev := from
	for i := 0; i < 10; i++ {
		next, ok := it.Next()
		require.True(t, ok)
		assert.True(t, next.After(prev), "candidate %d not after previous", i)
		prev = next
	}

	it.Reset(from)
	first, ok := it.Next()
	require.True(t, ok)
	assert.Equal(t, from.Add(20*time.Minute), first)
}

func TestNextOccurrences(t *testing.T) {
	schedule, err := ParseCron("0 0 * * MON")
	require.NoError(t, err)
	from := time.Date(2025, 6, 4, 0, 0, 0, 0, time.UTC) // Wednesday
	times := NextOccurrences(schedule, from, 3)
	require.Len(t, times, 3)
	assert.Equal(t, time.Date(2025, 6, 9, 0, 0, 0, 0, time.UTC), times[0])
	assert.Equal(t, time.Date(2025, 6, 23, 0, 0, 0, 0, time.UTC), times[2])
}
