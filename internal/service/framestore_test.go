package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/gladhopper/fd/internal/domain"
)

func TestFrameStore_LatestNilBeforeFirstFrame(t *testing.T) {
	store := NewFrameStore()
	assert.Nil(t, store.Latest())
}

func TestFrameStore_PublishReplacesAtomically(t *testing.T) {
	store := NewFrameStore()

	first := &domain.Frame{Index: 1, Pixels: []byte{1}}
	second := &domain.Frame{Index: 2, Pixels: []byte{2}}

	store.Publish(first)
	assert.Same(t, first, store.Latest())

	store.Publish(second)
	assert.Same(t, second, store.Latest())
}

func TestFrameStore_ConsecutiveErrorsDecayNeverNegative(t *testing.T) {
	store := NewFrameStore()

	for i := 0; i < 3; i++ {
		store.RecordError()
	}
	assert.Equal(t, 3, store.Snapshot().ConsecutiveErrors)

	for i := 0; i < 10; i++ {
		store.RecordSuccess(10 * time.Millisecond)
	}
	snap := store.Snapshot()
	assert.Equal(t, 0, snap.ConsecutiveErrors)
	assert.Equal(t, int64(10), snap.TotalFrames)
	assert.Equal(t, int64(3), snap.TotalErrors)
}

func TestFrameStore_HalveConsecutiveErrors(t *testing.T) {
	store := NewFrameStore()
	for i := 0; i < 5; i++ {
		store.RecordError()
	}

	store.HalveConsecutiveErrors()
	assert.Equal(t, 2, store.Snapshot().ConsecutiveErrors)
}

func TestFrameStore_SnapshotCarriesWindow(t *testing.T) {
	store := NewFrameStore()
	store.RecordSuccess(20 * time.Millisecond)
	store.RecordSuccess(40 * time.Millisecond)

	snap := store.Snapshot()
	assert.Equal(t, domain.StatsWindow, snap.Window)
	assert.Equal(t, 30*time.Millisecond, snap.MeanProcessing)
	assert.False(t, snap.LastSuccess.IsZero())
	assert.InDelta(t, 1.0, snap.SuccessRate, 1e-9)
}

func TestFrameStore_MeanUsesRollingWindow(t *testing.T) {
	store := NewFrameStore()

	// Fill the window with slow samples, then push them out with fast ones.
	for i := 0; i < domain.StatsWindow; i++ {
		store.RecordSuccess(time.Second)
	}
	for i := 0; i < domain.StatsWindow; i++ {
		store.RecordSuccess(10 * time.Millisecond)
	}
	assert.Equal(t, 10*time.Millisecond, store.Snapshot().MeanProcessing)
}
