package state

import (
	"context"
	"errors"
	"sync"
)

// ErrTrackingTerminated indicates that tracking was terminated before a
// polling operation observed a change, which happens once when a Manager is
// disposed: any observer still blocked in WaitForStatusChange or
// WaitForPendingSyncChange wakes up with this error instead of hanging
// forever.
var ErrTrackingTerminated = errors.New("tracking terminated")

// pollResponse answers a single pollRequest.
type pollResponse struct {
	// index is the tracker's index at the time of the response.
	index uint64
	// terminated indicates whether tracking had already ended when the
	// response was produced.
	terminated bool
}

// pollRequest is one caller's registered wait for an index past
// previousIndex.
type pollRequest struct {
	// previousIndex is the index the caller has already observed.
	previousIndex uint64
	// responses delivers the eventual pollResponse. Must be buffered so the
	// tracking loop never blocks sending to it.
	responses chan<- pollResponse
}

// Tracker gives Manager's status and pending-sync surfaces an index-based
// long-poll: every registry change, failure record, or pending-queue update
// bumps a single counter, and a caller blocked in WaitForChange wakes the
// instant that counter advances past the index it last saw, rather than on
// a fixed poll interval.
type Tracker struct {
	// change is the condition variable guarding index, terminated, and
	// pollRequests, and the mechanism used to wake the tracking loop.
	change *sync.Cond
	// index is the current state index.
	// NOTE: overflow isn't specially handled beyond keeping 0 reserved as
	// the "read immediately" sentinel. At any plausible notification rate
	// this module will never run long enough to wrap a uint64, and the
	// worst case on wraparound is one extra missed-change wait cycle for
	// whichever caller's previousIndex happened to collide.
	index uint64
	// terminated indicates whether tracking has been permanently stopped.
	terminated bool
	// pollRequests is the set of callers currently blocked in WaitForChange.
	pollRequests map[*pollRequest]bool
	// trackDone is closed once the tracking loop has exited.
	trackDone chan struct{}
}

// NewTracker starts a tracker at index 1 and launches its tracking loop.
func NewTracker() *Tracker {
	tracker := &Tracker{
		change:       sync.NewCond(&sync.Mutex{}),
		index:        1,
		pollRequests: make(map[*pollRequest]bool),
		trackDone:    make(chan struct{}),
	}
	go tracker.track()
	return tracker
}

// track bridges the condition-variable world (index, terminated,
// pollRequests) to the channel world (each pollRequest's responses channel).
func (t *Tracker) track() {
	defer close(t.trackDone)

	t.change.L.Lock()
	defer t.change.L.Unlock()

	for {
		if t.terminated {
			response := pollResponse{t.index, true}
			for r := range t.pollRequests {
				r.responses <- response
				delete(t.pollRequests, r)
			}
			return
		}

		// Wake and deregister every poller whose previousIndex has been
		// superseded.
		for r := range t.pollRequests {
			if r.previousIndex != t.index {
				r.responses <- pollResponse{t.index, false}
				delete(t.pollRequests, r)
			}
		}

		t.change.Wait()
	}
}

// Terminate stops the tracking loop and waits for it to exit, waking every
// currently blocked WaitForChange call with ErrTrackingTerminated.
func (t *Tracker) Terminate() {
	t.change.L.Lock()
	t.terminated = true
	t.change.Signal()
	t.change.L.Unlock()

	<-t.trackDone
}

// NotifyOfChange advances the state index and wakes the tracking loop so it
// can answer any poller waiting past the previous index. Manager calls this
// on every registry change, recorded failure, and pending-queue mutation via
// its notifyChange helper.
func (t *Tracker) NotifyOfChange() {
	t.change.L.Lock()
	defer t.change.L.Unlock()

	t.index++
	if t.index == 0 {
		t.index = 1
	}

	t.change.Signal()
}

// WaitForChange blocks until the state index advances past previousIndex,
// returning the new index. If tracking is terminated before that happens,
// it returns the current index with ErrTrackingTerminated; if ctx is
// cancelled first, it returns the current index with context.Canceled. A
// previousIndex of 0 bypasses polling entirely and returns the current
// index immediately, which is how a new observer bootstraps its first
// previousIndex.
func (t *Tracker) WaitForChange(ctx context.Context, previousIndex uint64) (uint64, error) {
	if previousIndex == 0 {
		t.change.L.Lock()
		defer t.change.L.Unlock()
		if t.terminated {
			return t.index, ErrTrackingTerminated
		}
		return t.index, nil
	}

	t.change.L.Lock()

	if t.terminated {
		defer t.change.L.Unlock()
		return t.index, ErrTrackingTerminated
	}

	responses := make(chan pollResponse, 1)
	request := &pollRequest{previousIndex, responses}
	t.pollRequests[request] = true

	t.change.Signal()
	t.change.L.Unlock()

	select {
	case <-ctx.Done():
		t.change.L.Lock()
		delete(t.pollRequests, request)
		t.change.L.Unlock()
		return t.index, context.Canceled
	case response := <-responses:
		if response.terminated {
			return response.index, ErrTrackingTerminated
		}
		return response.index, nil
	}
}
