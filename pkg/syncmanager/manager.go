// Package syncmanager implements FileSyncManager (spec.md §4.4): the
// registry of sync targets, the change router, the pending-queue failure
// model, the conflict resolver, and the full-resync driver.
//
// Grounded on the teacher's pkg/synchronization/manager.go, which holds a
// registry of controllers and fans work out to them; here the registry
// holds synctarget.Target instances instead of sessions. state.Tracker
// (pkg/state) backs the observer surface the same way: every registry or
// failure mutation bumps the tracker's index, and WaitForStatusChange /
// WaitForPendingSyncChange long-poll Tracker.WaitForChange from a caller's
// previously observed index, exactly as the teacher's Manager.List does.
package syncmanager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mrsimpson/piddie-sync/pkg/config"
	"github.com/mrsimpson/piddie-sync/pkg/core"
	"github.com/mrsimpson/piddie-sync/pkg/logging"
	"github.com/mrsimpson/piddie-sync/pkg/state"
	"github.com/mrsimpson/piddie-sync/pkg/synctarget"
	"github.com/mrsimpson/piddie-sync/pkg/syncerr"
)

// maxFailureHistory bounds the failureHistory ring buffer (spec.md §10
// Supplemented Features, default 32 entries), grounded on the teacher's
// bounded problem lists (maximumListScanProblems in manager.go).
const maxFailureHistory = 32

// maxPendingQueueSize bounds a single target's pending-change queue before
// it is collapsed into a full-resync marker (spec.md §4.4 "The queue is
// bounded by an implementation-chosen maximum").
const maxPendingQueueSize = 256

// entry wraps a registered target with its role and a serialization mutex
// that enforces "at most one applyFileChange per peer in flight" (spec.md
// §5 Ordering guarantees) across concurrently routed batches from different
// sources.
type entry struct {
	id     string
	role   core.TargetRole
	target *synctarget.Target

	applyMu sync.Mutex
}

// Manager implements FileSyncManager.
type Manager struct {
	logger *logging.Logger

	mu          sync.RWMutex
	initialized bool
	disposed    bool
	config      config.ManagerConfig

	primary      *entry
	secondaries  map[string]*entry
	pending      map[string][]core.FileChangeInfo
	currentFail  *core.FailureRecord
	failureHist  []core.FailureRecord

	tracker      *state.Tracker
	trackingLock *state.TrackingLock
}

// New creates an uninitialized manager. Call Initialize before registering
// targets.
func New(logger *logging.Logger) *Manager {
	tracker := state.NewTracker()
	return &Manager{
		logger:       logger,
		secondaries:  make(map[string]*entry),
		pending:      make(map[string][]core.FileChangeInfo),
		tracker:      tracker,
		trackingLock: state.NewTrackingLock(tracker),
	}
}

// Initialize applies cfg (layered over the spec defaults). Idempotent:
// calling it again only updates configuration, it does not reset the
// registry.
func (m *Manager) Initialize(cfg config.ManagerConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config = config.DefaultManagerConfig().Merge(cfg)
	m.initialized = true
	return nil
}

// RegisterTarget adds target to the registry under role, then starts its
// watcher with the manager's routing callback. At most one primary may be
// registered at a time.
func (m *Manager) RegisterTarget(target *synctarget.Target, role core.TargetRole) error {
	m.mu.Lock()
	if !m.initialized {
		m.mu.Unlock()
		return syncerr.New(syncerr.KindInvalidOperation, "manager not initialized")
	}
	if role == core.TargetRolePrimary && m.primary != nil {
		m.mu.Unlock()
		return syncerr.New(syncerr.KindInvalidOperation, "a primary target is already registered")
	}

	e := &entry{id: target.ID, role: role, target: target}
	if role == core.TargetRolePrimary {
		m.primary = e
	} else {
		m.secondaries[target.ID] = e
	}
	m.mu.Unlock()

	m.notifyChange()

	id := target.ID
	return target.Watch(func(batch []core.FileChangeInfo) {
		m.HandleTargetChanges(id, batch)
	}, synctarget.WatchOptions{})
}

// UnregisterTarget stops id's watcher, removes it from the registry, and
// drops any pending entries addressed to it.
func (m *Manager) UnregisterTarget(id string) error {
	m.mu.Lock()
	var e *entry
	if m.primary != nil && m.primary.id == id {
		e = m.primary
		m.primary = nil
	} else if found, ok := m.secondaries[id]; ok {
		e = found
		delete(m.secondaries, id)
	}
	delete(m.pending, id)
	m.mu.Unlock()

	if e == nil {
		return syncerr.New(syncerr.KindNotFound, "no target registered with id "+id)
	}
	e.target.Unwatch()
	m.notifyChange()
	return nil
}

// GetPrimaryTarget returns the registered primary target, or nil if none is
// registered.
func (m *Manager) GetPrimaryTarget() *synctarget.Target {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.primary == nil {
		return nil
	}
	return m.primary.target
}

// GetSecondaryTargets returns the registered secondary targets.
func (m *Manager) GetSecondaryTargets() []*synctarget.Target {
	m.mu.RLock()
	defer m.mu.RUnlock()
	targets := make([]*synctarget.Target, 0, len(m.secondaries))
	for _, e := range m.secondaries {
		targets = append(targets, e.target)
	}
	return targets
}

// allEntries returns every registered entry (primary first).
func (m *Manager) allEntries() []*entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := make([]*entry, 0, len(m.secondaries)+1)
	if m.primary != nil {
		entries = append(entries, m.primary)
	}
	for _, e := range m.secondaries {
		entries = append(entries, e)
	}
	return entries
}

// entryFor returns the registered entry with the given id, if any.
func (m *Manager) entryFor(id string) *entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.primary != nil && m.primary.id == id {
		return m.primary
	}
	return m.secondaries[id]
}

// peersOf returns every registered entry except the one with excludeID.
func (m *Manager) peersOf(excludeID string) []*entry {
	all := m.allEntries()
	peers := make([]*entry, 0, len(all))
	for _, e := range all {
		if e.id != excludeID {
			peers = append(peers, e)
		}
	}
	return peers
}

// index returns the tracker's current state index without blocking, for
// stamping a snapshot so a caller can long-poll from it later.
func (m *Manager) index() uint64 {
	index, _ := m.tracker.WaitForChange(context.Background(), 0)
	return index
}

// GetStatus returns a snapshot of manager-wide phase, per-target state, and
// recent failure history (spec.md §4.4 Observability).
func (m *Manager) GetStatus() Status {
	m.mu.RLock()
	pendingCounts := make(map[string]int, len(m.pending))
	for id, changes := range m.pending {
		pendingCounts[id] = len(changes)
	}
	history := make([]core.FailureRecord, len(m.failureHist))
	copy(history, m.failureHist)
	var current *core.FailureRecord
	if m.currentFail != nil {
		c := *m.currentFail
		current = &c
	}
	m.mu.RUnlock()

	targets := make(map[string]core.TargetState)
	for _, e := range m.allEntries() {
		targets[e.id] = e.target.GetState(pendingCounts[e.id])
	}

	return Status{
		Index:          m.index(),
		Phase:          m.phase(targets),
		Targets:        targets,
		FailureHistory: history,
		CurrentFailure: current,
	}
}

// WaitForStatusChange blocks until the tracker's state index advances past
// previousIndex (or ctx is cancelled, or the manager is disposed), then
// returns a fresh GetStatus snapshot alongside the index it was taken at. A
// previousIndex of 0 returns immediately with the current snapshot, letting
// a new observer bootstrap its first previousIndex without an initial
// GetStatus call.
func (m *Manager) WaitForStatusChange(ctx context.Context, previousIndex uint64) (Status, uint64, error) {
	index, err := m.tracker.WaitForChange(ctx, previousIndex)
	if err != nil {
		return Status{}, index, err
	}
	return m.GetStatus(), index, nil
}

// phase summarizes the manager's overall activity from its targets' states.
func (m *Manager) phase(targets map[string]core.TargetState) string {
	for _, s := range targets {
		if s.Status == core.StatusError {
			return "error"
		}
	}
	for _, s := range targets {
		if s.Status == core.StatusSyncing || s.Status == core.StatusCollecting || s.Status == core.StatusNotifying {
			return "syncing"
		}
	}
	return "idle"
}

// Status is the value returned by GetStatus. Index is the tracker state
// index the snapshot was taken at; pass it as previousIndex to
// WaitForStatusChange to block until the next change.
type Status struct {
	Index          uint64
	Phase          string
	Targets        map[string]core.TargetState
	FailureHistory []core.FailureRecord
	CurrentFailure *core.FailureRecord
}

// GetPendingSync returns a snapshot of the pending queue, or nil if it is
// empty.
func (m *Manager) GetPendingSync() *core.PendingSync {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.pending) == 0 {
		return nil
	}
	snapshot := make(map[string][]core.FileChangeInfo, len(m.pending))
	for id, changes := range m.pending {
		copied := make([]core.FileChangeInfo, len(changes))
		copy(copied, changes)
		snapshot[id] = copied
	}
	return &core.PendingSync{PendingByTarget: snapshot}
}

// WaitForPendingSyncChange blocks until the tracker's state index advances
// past previousIndex (or ctx is cancelled, or the manager is disposed), then
// returns a fresh GetPendingSync snapshot alongside the index it was taken
// at. A previousIndex of 0 returns immediately.
func (m *Manager) WaitForPendingSyncChange(ctx context.Context, previousIndex uint64) (*core.PendingSync, uint64, error) {
	index, err := m.tracker.WaitForChange(ctx, previousIndex)
	if err != nil {
		return nil, index, err
	}
	return m.GetPendingSync(), index, nil
}

// ConfirmPrimarySync clears the manager's currentFailure record once the
// caller has observed and handled it (spec.md §10 Supplemented Features).
func (m *Manager) ConfirmPrimarySync() {
	m.mu.Lock()
	m.currentFail = nil
	m.mu.Unlock()
	m.notifyChange()
}

// RejectPendingSync removes the named paths from targetID's pending queue
// without applying them (spec.md §10 Supplemented Features).
func (m *Manager) RejectPendingSync(targetID string, paths []core.Path) {
	reject := make(map[core.Path]bool, len(paths))
	for _, p := range paths {
		reject[p] = true
	}

	m.mu.Lock()
	changes := m.pending[targetID]
	filtered := changes[:0:0]
	for _, c := range changes {
		if !reject[c.Path] {
			filtered = append(filtered, c)
		}
	}
	if len(filtered) == 0 {
		delete(m.pending, targetID)
	} else {
		m.pending[targetID] = filtered
	}
	m.mu.Unlock()
	m.notifyChange()
}

// ReinitializeTarget brings the target out of StatusError with
// Recover(RecoveryClear) and, for a secondary, then runs
// FullSyncFromPrimaryToTarget before returning. It fails if the target is
// not in StatusError (spec.md §10 Supplemented Features, grounded on the
// teacher's session reset operation).
func (m *Manager) ReinitializeTarget(id string) error {
	e := m.entryFor(id)
	if e == nil {
		return syncerr.New(syncerr.KindNotFound, "no target registered with id "+id)
	}

	if err := e.target.Recover(synctarget.RecoveryClear); err != nil {
		return err
	}
	if e.role == core.TargetRoleSecondary {
		return m.FullSyncFromPrimaryToTarget(id)
	}
	return nil
}

// Dispose unwatches all targets, clears pending queues, and tolerates
// individual target dispose errors by logging them rather than returning an
// error (spec.md §4.4 Lifecycle).
func (m *Manager) Dispose() error {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return nil
	}
	m.disposed = true
	entries := make([]*entry, 0, len(m.secondaries)+1)
	if m.primary != nil {
		entries = append(entries, m.primary)
	}
	for _, e := range m.secondaries {
		entries = append(entries, e)
	}
	m.primary = nil
	m.secondaries = make(map[string]*entry)
	m.pending = make(map[string][]core.FileChangeInfo)
	m.mu.Unlock()

	for _, e := range entries {
		if err := e.target.Dispose(); err != nil {
			m.logger.Warn(fmt.Errorf("disposing target %s: %w", e.id, err))
		}
	}

	m.tracker.Terminate()
	m.notifyChange()
	return nil
}

// recordFailure appends a failure to the bounded history and sets it as the
// current failure (spec.md §4.4 Failure model, §10 failureHistory).
func (m *Manager) recordFailure(targetID string, err error) {
	record := core.FailureRecord{
		TargetID:  targetID,
		Error:     err.Error(),
		Timestamp: time.Now().UnixMilli(),
	}

	m.mu.Lock()
	m.currentFail = &record
	m.failureHist = append(m.failureHist, record)
	if len(m.failureHist) > maxFailureHistory {
		m.failureHist = m.failureHist[len(m.failureHist)-maxFailureHistory:]
	}
	m.mu.Unlock()
	m.notifyChange()

	if m.logger != nil {
		m.logger.Warn(fmt.Errorf("sync failure on target %s: %w", targetID, err))
	}
}

// notifyChange bumps the observability tracker so long-poll observers wake.
func (m *Manager) notifyChange() {
	m.trackingLock.Lock()
	m.trackingLock.Unlock()
}
