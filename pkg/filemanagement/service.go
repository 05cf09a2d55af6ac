// Package filemanagement provides FileManagementService (spec.md §4.5), a
// thin composition root wiring one FileSystem (the primary backing) and one
// FileSyncManager into a single initialize/dispose lifecycle.
//
// Grounded on the teacher's cmd/mutagen + pkg/service wiring pattern:
// construct dependencies bottom-up, expose a narrow lifecycle, guard
// accessors against use-before-initialize — but expressed as a plain
// library type rather than an RPC service, since there is no daemon in
// scope for this rewrite.
package filemanagement

import (
	"fmt"

	"github.com/mrsimpson/piddie-sync/pkg/config"
	"github.com/mrsimpson/piddie-sync/pkg/core"
	"github.com/mrsimpson/piddie-sync/pkg/filesystem"
	"github.com/mrsimpson/piddie-sync/pkg/logging"
	"github.com/mrsimpson/piddie-sync/pkg/syncmanager"
	"github.com/mrsimpson/piddie-sync/pkg/synctarget"
)

// Service is the composition root for a single logical project's
// synchronization: one primary FileSystem plus whatever secondaries are
// registered against its Manager.
type Service struct {
	logger *logging.Logger

	initialized bool

	primaryFS     filesystem.FileSystem
	primaryTarget *synctarget.Target
	manager       *syncmanager.Manager
}

// New creates an uninitialized service.
func New(logger *logging.Logger) *Service {
	return &Service{logger: logger}
}

// Initialize wires primaryFS into a primary SyncTarget, constructs a
// FileSyncManager with cfg, and registers the primary target with it
// (spec.md §4.5). Calling Initialize twice is a fatal usage error, matching
// the teacher's "already initialized" guards.
func (s *Service) Initialize(primaryFS filesystem.FileSystem, cfg config.ManagerConfig) error {
	if s.initialized {
		panic("filemanagement: Service already initialized")
	}

	target, err := synctarget.New("", core.TargetRolePrimary, s.logger)
	if err != nil {
		return fmt.Errorf("unable to create primary target: %w", err)
	}
	if err := target.Initialize(primaryFS, core.TargetRolePrimary, synctarget.InitializeOptions{}); err != nil {
		return fmt.Errorf("unable to initialize primary target: %w", err)
	}

	manager := syncmanager.New(s.logger)
	if err := manager.Initialize(cfg); err != nil {
		return fmt.Errorf("unable to initialize sync manager: %w", err)
	}
	if err := manager.RegisterTarget(target, core.TargetRolePrimary); err != nil {
		return fmt.Errorf("unable to register primary target: %w", err)
	}

	s.primaryFS = primaryFS
	s.primaryTarget = target
	s.manager = manager
	s.initialized = true
	return nil
}

// RegisterSecondary wires fs into a new secondary SyncTarget and registers
// it with the manager, resolving its recovery through a full resync from
// the primary.
func (s *Service) RegisterSecondary(id string, fs filesystem.FileSystem) (*synctarget.Target, error) {
	s.requireInitialized()

	target, err := synctarget.New(id, core.TargetRoleSecondary, s.logger)
	if err != nil {
		return nil, fmt.Errorf("unable to create secondary target: %w", err)
	}

	manager := s.manager
	options := synctarget.InitializeOptions{
		ResolveFromPrimary: func() error {
			return manager.FullSyncFromPrimaryToTarget(target.ID)
		},
	}
	if err := target.Initialize(fs, core.TargetRoleSecondary, options); err != nil {
		return nil, fmt.Errorf("unable to initialize secondary target %s: %w", target.ID, err)
	}
	if err := manager.RegisterTarget(target, core.TargetRoleSecondary); err != nil {
		return nil, fmt.Errorf("unable to register secondary target %s: %w", target.ID, err)
	}

	return target, nil
}

// Manager returns the underlying FileSyncManager.
func (s *Service) Manager() *syncmanager.Manager {
	s.requireInitialized()
	return s.manager
}

// PrimaryTarget returns the primary SyncTarget.
func (s *Service) PrimaryTarget() *synctarget.Target {
	s.requireInitialized()
	return s.primaryTarget
}

// requireInitialized panics with the guard message the teacher's own
// accessors use, if the service hasn't been initialized yet.
func (s *Service) requireInitialized() {
	if !s.initialized {
		panic("filemanagement: Service not initialized")
	}
}

// Dispose delegates to the manager's Dispose, logging (never returning) any
// error it reports (spec.md §4.5 "dispose() delegates and swallows manager
// errors").
func (s *Service) Dispose() {
	if !s.initialized || s.manager == nil {
		return
	}
	if err := s.manager.Dispose(); err != nil && s.logger != nil {
		s.logger.Warn(fmt.Errorf("disposing sync manager: %w", err))
	}
}
