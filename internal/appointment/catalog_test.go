package appointment

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingLookup struct {
	ids   map[Status]int64
	calls int
	err   error
}

func (l *countingLookup) StatusID(_ context.Context, status Status) (int64, bool, error) {
	l.calls++
	if l.err != nil {
		return 0, false, l.err
	}
	id, ok := l.ids[status]
	return id, ok, nil
}

func TestCatalog_ResolveMemoizes(t *testing.T) {
	lookup := &countingLookup{ids: map[Status]int64{StatusPending: 11}}
	c := NewCatalog()

	for i := 0; i < 3; i++ {
		id, err := c.Resolve(context.Background(), lookup, StatusPending)
		require.NoError(t, err)
		assert.Equal(t, int64(11), id)
	}
	assert.Equal(t, 1, lookup.calls)
}

func TestCatalog_ResolveMissingValue(t *testing.T) {
	lookup := &countingLookup{ids: map[Status]int64{}}
	c := NewCatalog()

	_, err := c.Resolve(context.Background(), lookup, StatusCancelled)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStatusNotProvisioned)
	assert.Contains(t, err.Error(), string(StatusCancelled))

	// misses are not cached
	lookup.ids[StatusCancelled] = 3
	id, err := c.Resolve(context.Background(), lookup, StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, int64(3), id)
}

func TestCatalog_ResolveLookupError(t *testing.T) {
	boom := errors.New("connection reset")
	c := NewCatalog()

	_, err := c.Resolve(context.Background(), &countingLookup{err: boom}, StatusPending)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrStatusNotProvisioned)
}

func TestCatalog_Preload(t *testing.T) {
	full := &countingLookup{ids: map[Status]int64{
		StatusPending: 1, StatusConfirmed: 2, StatusCancelled: 3, StatusAttended: 4,
	}}
	require.NoError(t, NewCatalog().Preload(context.Background(), full))

	partial := &countingLookup{ids: map[Status]int64{StatusPending: 1}}
	assert.ErrorIs(t, NewCatalog().Preload(context.Background(), partial), ErrStatusNotProvisioned)
}
