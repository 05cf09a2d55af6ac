package syncmanager

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	humanize "github.com/dustin/go-humanize"
	"golang.org/x/sync/semaphore"

	"github.com/mrsimpson/piddie-sync/pkg/core"
	"github.com/mrsimpson/piddie-sync/pkg/syncerr"
)

// fullSyncConcurrency bounds the number of concurrent file transfers during
// a full resync (spec.md §3 DOMAIN STACK: x/sync/semaphore "bounding
// concurrent full-resync file transfers").
const fullSyncConcurrency = 8

// FullSyncFromPrimaryToTarget enumerates the primary, streams every file
// into target, and finishes with deletes for paths present on target but
// absent on the primary (spec.md §4.4 "Full resyncs"). It is transactional
// at the target-state level: any apply failure drives the target into
// StatusError via the same machinery as a normal applyFileChange failure.
func (m *Manager) FullSyncFromPrimaryToTarget(targetID string) error {
	primary := m.GetPrimaryTarget()
	if primary == nil {
		return syncerr.New(syncerr.KindInvalidOperation, "no primary target registered")
	}
	peer := m.entryFor(targetID)
	if peer == nil {
		return syncerr.New(syncerr.KindNotFound, "no target registered with id "+targetID)
	}
	if peer.target == primary {
		return syncerr.New(syncerr.KindInvalidOperation, "cannot full-sync the primary target to itself")
	}

	peer.applyMu.Lock()
	defer peer.applyMu.Unlock()

	primarySnapshot := primary.Snapshot()
	peerSnapshot := peer.target.Snapshot()

	paths := make([]core.Path, 0, len(primarySnapshot))
	for path := range primarySnapshot {
		paths = append(paths, path)
	}

	if err := peer.target.NotifyIncomingChanges(paths); err != nil {
		m.recordFailure(targetID, err)
		return err
	}

	sem := semaphore.NewWeighted(fullSyncConcurrency)
	ctx := context.Background()

	var mu sync.Mutex
	var firstErr error
	recordErr := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}

	var transferredBytes int64

	var wg sync.WaitGroup
	for path, metadata := range primarySnapshot {
		path, metadata := path, metadata
		if err := sem.Acquire(ctx, 1); err != nil {
			recordErr(err)
			break
		}
		wg.Add(1)
		go func() {
			defer sem.Release(1)
			defer wg.Done()

			change := core.FileChange{
				FileChangeInfo: core.FileChangeInfo{
					Path:         path,
					Type:         core.ChangeModify,
					Metadata:     &metadata,
					SourceTarget: primary.ID,
				},
			}
			// Directories carry no content stream; only files need one.
			if metadata.Kind != core.EntryKindDirectory {
				stream, err := primary.GetFileContent(path)
				if err != nil {
					recordErr(err)
					return
				}
				change.Stream = stream
				atomic.AddInt64(&transferredBytes, metadata.Size)
			}
			if err := peer.target.ForceApplyFileChange(change); err != nil {
				recordErr(err)
			}
		}()
	}
	wg.Wait()

	if m.logger != nil {
		m.logger.Printf("full resync to %s transferred %s", targetID, humanize.Bytes(uint64(transferredBytes)))
	}

	var toDelete []core.Path
	for path := range peerSnapshot {
		if _, presentOnPrimary := primarySnapshot[path]; !presentOnPrimary {
			toDelete = append(toDelete, path)
		}
	}
	// Deepest paths first, so every child is deleted before its parent
	// directory and no delete targets an entry already removed along with
	// its parent.
	sort.Slice(toDelete, func(i, j int) bool {
		return strings.Count(toDelete[i].String(), "/") > strings.Count(toDelete[j].String(), "/")
	})
	for _, path := range toDelete {
		change := core.FileChange{
			FileChangeInfo: core.FileChangeInfo{
				Path:         path,
				Type:         core.ChangeDelete,
				SourceTarget: primary.ID,
			},
		}
		if err := peer.target.ForceApplyFileChange(change); err != nil {
			recordErr(err)
		}
	}

	if err := peer.target.SyncComplete(); err != nil && firstErr == nil {
		firstErr = err
	}

	if firstErr != nil {
		m.recordFailure(targetID, firstErr)
		return firstErr
	}

	m.notifyChange()
	return nil
}
