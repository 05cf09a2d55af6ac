package syncmanager

import (
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mrsimpson/piddie-sync/pkg/core"
)

// HandleTargetChanges routes a batch of changes detected at sourceID to
// every other registered target (spec.md §4.4 "Change routing — happy
// path"). It never returns an error to the watcher that produced the
// batch: per-peer failures are recorded and queued for retry instead
// (spec.md §7 Propagation).
func (m *Manager) HandleTargetChanges(sourceID string, batch []core.FileChangeInfo) {
	if len(batch) == 0 {
		return
	}
	ordered := orderBatch(batch)

	peers := m.peersOf(sourceID)
	if len(peers) == 0 {
		return
	}

	var group errgroup.Group
	for _, peer := range peers {
		peer := peer
		group.Go(func() error {
			m.routeToPeer(peer, ordered)
			return nil
		})
	}
	_ = group.Wait()

	m.notifyChange()
}

// routeToPeer delivers batch to peer, enforcing per-peer serialization
// (spec.md §5 "at most one applyFileChange per peer in flight") via the
// peer's own mutex, then drains any previously queued pending changes for
// that peer once it has returned to idle.
func (m *Manager) routeToPeer(peer *entry, batch []core.FileChangeInfo) {
	peer.applyMu.Lock()
	defer peer.applyMu.Unlock()

	unapplied := m.applyBatchToPeer(peer, batch)
	for _, c := range unapplied {
		m.enqueuePending(peer.id, c)
	}

	m.drainPending(peer)
}

// applyBatchToPeer performs notifyIncomingChanges → applyFileChange* →
// syncComplete against peer for batch, resolving any conflicts per policy.
// It returns the suffix of batch that could not be applied due to an error
// (to be queued for retry); conflicts are not failures and are not
// included in the returned slice, since resolveConflict already decided
// their outcome.
func (m *Manager) applyBatchToPeer(peer *entry, batch []core.FileChangeInfo) []core.FileChangeInfo {
	paths := make([]core.Path, len(batch))
	for i, c := range batch {
		paths[i] = c.Path
	}

	if err := peer.target.NotifyIncomingChanges(paths); err != nil {
		m.recordFailure(peer.id, err)
		return batch
	}

	var unapplied []core.FileChangeInfo
	for i, info := range batch {
		source := m.entryFor(info.SourceTarget)

		change := core.FileChange{FileChangeInfo: info}
		if info.Type != core.ChangeDelete {
			if source == nil {
				unapplied = append(unapplied, batch[i:]...)
				break
			}
			// Directories carry no content stream; only files need one.
			if info.Metadata == nil || info.Metadata.Kind != core.EntryKindDirectory {
				stream, err := source.target.GetFileContent(info.Path)
				if err != nil {
					m.recordFailure(peer.id, err)
					unapplied = append(unapplied, batch[i:]...)
					break
				}
				change.Stream = stream
			}
		}

		conflict, err := peer.target.ApplyFileChange(change)
		if err != nil {
			m.recordFailure(peer.id, err)
			unapplied = append(unapplied, batch[i:]...)
			break
		}
		if conflict != nil {
			m.resolveConflict(source, peer, info)
		}
	}

	if err := peer.target.SyncComplete(); err != nil {
		m.recordFailure(peer.id, err)
	}

	return unapplied
}

// resolveConflict implements spec.md §4.4's conflict policy once
// peer.ApplyFileChange has reported that info's path already diverged
// locally:
//
//   - source is primary: primary wins, force the overwrite into peer.
//   - source is secondary and peer is primary: reject; the secondary that
//     originated the change is scheduled for a full resync from primary,
//     undoing its local edit (spec.md §3 "no write applied to a secondary
//     is allowed to overwrite the primary unless it originated from the
//     primary").
//   - source and peer are both secondaries: reject and enqueue, to be
//     reconciled by a later primary-sourced change on the same path.
func (m *Manager) resolveConflict(source, peer *entry, info core.FileChangeInfo) {
	if source == nil {
		return
	}

	switch {
	case source.role == core.TargetRolePrimary:
		stream, err := source.target.GetFileContent(info.Path)
		if err != nil {
			m.recordFailure(peer.id, err)
			m.enqueuePending(peer.id, info)
			return
		}
		change := core.FileChange{FileChangeInfo: info, Stream: stream}
		if err := peer.target.ForceApplyFileChange(change); err != nil {
			m.recordFailure(peer.id, err)
			m.enqueuePending(peer.id, info)
		}
	case peer.role == core.TargetRolePrimary:
		sourceID := source.id
		go func() {
			if err := m.FullSyncFromPrimaryToTarget(sourceID); err != nil && m.logger != nil {
				m.logger.Warn(err)
			}
		}()
	default:
		m.enqueuePending(peer.id, info)
	}
}

// enqueuePending appends info to targetID's pending list, collapsing it
// into a synthetic full-resync marker if it overflows maxPendingQueueSize
// (spec.md §4.4 "overflow replaces the list with a single synthetic 'full
// resync required' marker").
func (m *Manager) enqueuePending(targetID string, info core.FileChangeInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.pending[targetID]
	if len(existing) == 1 && core.IsFullResyncMarker(existing[0]) {
		return
	}

	updated := append(existing, info)
	if len(updated) > maxPendingQueueSize {
		updated = []core.FileChangeInfo{core.FullResyncMarker(time.Now().UnixMilli())}
	}
	m.pending[targetID] = updated
}

// drainPending retries peer's queued pending changes now that it has
// returned to idle (spec.md §4.4 "A peer returning to idle triggers a
// drain pass of its pending queue"). Caller must hold peer.applyMu.
func (m *Manager) drainPending(peer *entry) {
	m.mu.Lock()
	queued := m.pending[peer.id]
	delete(m.pending, peer.id)
	m.mu.Unlock()

	if len(queued) == 0 {
		return
	}

	if len(queued) == 1 && core.IsFullResyncMarker(queued[0]) {
		if peer.role == core.TargetRoleSecondary {
			peerID := peer.id
			go func() {
				if err := m.FullSyncFromPrimaryToTarget(peerID); err != nil && m.logger != nil {
					m.logger.Warn(err)
				}
			}()
		}
		return
	}

	unapplied := m.applyBatchToPeer(peer, queued)
	for _, c := range unapplied {
		m.enqueuePending(peer.id, c)
	}
}

// orderBatch returns batch with deletes moved after every create/modify,
// preserving relative order within each group (spec.md §4.4 Ordering
// guarantees, "safe-recursive-delete"): a delete is never applied to a
// peer before a create/modify of a path it may contain.
func orderBatch(batch []core.FileChangeInfo) []core.FileChangeInfo {
	ordered := make([]core.FileChangeInfo, len(batch))
	copy(ordered, batch)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Type != core.ChangeDelete && ordered[j].Type == core.ChangeDelete
	})
	return ordered
}
