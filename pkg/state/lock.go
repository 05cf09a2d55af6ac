package state

import (
	"sync"
)

// TrackingLock pairs a mutex with a Tracker so that whatever state it
// guards automatically notifies long-poll observers the moment a critical
// section protecting that state ends. Manager uses one to back
// notifyChange: every registry mutation, recorded failure, or pending-queue
// update takes the lock, makes its change, and releases it, which bumps the
// tracker's index for WaitForStatusChange / WaitForPendingSyncChange.
type TrackingLock struct {
	lock    sync.Mutex
	tracker *Tracker
}

// NewTrackingLock creates a TrackingLock backed by tracker.
func NewTrackingLock(tracker *Tracker) *TrackingLock {
	return &TrackingLock{
		tracker: tracker,
	}
}

// Lock acquires the lock.
func (l *TrackingLock) Lock() {
	l.lock.Lock()
}

// Unlock releases the lock and notifies the tracker of a change.
func (l *TrackingLock) Unlock() {
	l.lock.Unlock()
	l.tracker.NotifyOfChange()
}

// UnlockWithoutNotify releases the lock without notifying the tracker, for
// callers that know the guarded state didn't actually change.
func (l *TrackingLock) UnlockWithoutNotify() {
	l.lock.Unlock()
}
