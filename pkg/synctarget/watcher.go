package synctarget

import (
	"time"

	"github.com/mrsimpson/piddie-sync/pkg/core"
	"github.com/mrsimpson/piddie-sync/pkg/state"
)

// Watch starts the polling watcher, which ticks every pollInterval,
// diffs the filesystem against the stored snapshot, and — once at least one
// change has been observed — debounces via a Coalescer before invoking
// callback with the accumulated batch (spec.md §4.3).
//
// Grounded on the teacher's watch_poll.go: a single in-flight poll at a time
// (no overlapping scans), with changes surfaced only after they've settled.
func (t *Target) Watch(callback ChangeBatchCallback, options WatchOptions) error {
	t.watchMu.Lock()
	defer t.watchMu.Unlock()

	if t.started {
		return nil
	}

	t.callback = callback
	t.coalescer = state.NewCoalescer(t.debounceWindow)
	t.pendingSet = make(map[core.Path]core.FileChangeInfo)
	t.stopPoll = make(chan struct{})
	t.pollDone = make(chan struct{})
	t.started = true

	go t.flushLoop(t.stopPoll, t.coalescer.Events())
	go t.pollLoop()

	return nil
}

// Unwatch stops the polling loop and releases the watcher's background
// goroutines. It is idempotent.
func (t *Target) Unwatch() {
	t.watchMu.Lock()
	if !t.started {
		t.watchMu.Unlock()
		return
	}
	t.started = false
	stop := t.stopPoll
	done := t.pollDone
	coalescer := t.coalescer
	t.watchMu.Unlock()

	close(stop)
	<-done
	if coalescer != nil {
		coalescer.Terminate()
	}
}

// pollLoop ticks at pollInterval, performing one scan-and-diff per tick.
// It never overlaps a scan with the next tick: the ticker is consumed only
// after the previous scan has fully returned.
func (t *Target) pollLoop() {
	defer close(t.pollDone)

	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopPoll:
			return
		case <-ticker.C:
			t.pollOnce()
		}
	}
}

// pollOnce performs a single scan, diffs it against the stored snapshot,
// records any detected changes in the pending set, and strobes the
// coalescer if anything changed.
func (t *Target) pollOnce() {
	status, _ := t.machine.current()
	if status != core.StatusIdle && status != core.StatusNotifying {
		return
	}

	snapshot, err := t.scan()
	if err != nil {
		return
	}

	t.snapshotMu.Lock()
	previous := t.snapshot
	t.snapshot = snapshot
	t.snapshotMu.Unlock()

	changes := diffSnapshots(previous, snapshot, t.ID)
	if len(changes) == 0 {
		return
	}

	t.pendingMu.Lock()
	for _, change := range changes {
		if _, exists := t.pendingSet[change.Path]; !exists {
			t.pendingSeq = append(t.pendingSeq, change.Path)
		}
		t.pendingSet[change.Path] = change
	}
	t.pendingMu.Unlock()

	if t.machine.transition(core.StatusNotifying) == nil {
		// Best effort: if the transition fails because another actor
		// already moved the machine on, the batch is still picked up on
		// the next coalescer event.
	}
	t.coalescer.Strobe()
}

// flushLoop delivers coalesced batches to the callback as they become ready,
// until stop is closed.
func (t *Target) flushLoop(stop <-chan struct{}, events <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-events:
		}
		t.pendingMu.Lock()
		if len(t.pendingSeq) == 0 {
			t.pendingMu.Unlock()
			continue
		}
		batch := make([]core.FileChangeInfo, 0, len(t.pendingSeq))
		for _, path := range t.pendingSeq {
			batch = append(batch, t.pendingSet[path])
		}
		t.pendingSeq = nil
		t.pendingSet = make(map[core.Path]core.FileChangeInfo)
		t.pendingMu.Unlock()

		if status, _ := t.machine.current(); status == core.StatusNotifying {
			t.machine.transition(core.StatusIdle)
		}

		if t.callback != nil {
			t.callback(batch)
		}
	}
}

// diffSnapshots compares two path->metadata snapshots and returns the
// implied file changes, classifying each as create, modify, or delete.
func diffSnapshots(previous, current map[core.Path]core.FileMetadata, sourceTarget string) []core.FileChangeInfo {
	var changes []core.FileChangeInfo

	for path, metadata := range current {
		metadata := metadata
		if old, existed := previous[path]; !existed {
			changes = append(changes, core.FileChangeInfo{
				Path:         path,
				Type:         core.ChangeCreate,
				Metadata:     &metadata,
				SourceTarget: sourceTarget,
			})
		} else if !old.Equal(metadata) {
			changes = append(changes, core.FileChangeInfo{
				Path:         path,
				Type:         core.ChangeModify,
				Metadata:     &metadata,
				SourceTarget: sourceTarget,
			})
		}
	}

	for path := range previous {
		if _, stillPresent := current[path]; !stillPresent {
			changes = append(changes, core.FileChangeInfo{
				Path:         path,
				Type:         core.ChangeDelete,
				SourceTarget: sourceTarget,
			})
		}
	}

	return changes
}
