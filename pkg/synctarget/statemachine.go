package synctarget

import (
	"sync"

	"github.com/mrsimpson/piddie-sync/pkg/core"
	"github.com/mrsimpson/piddie-sync/pkg/syncerr"
)

// stateMachine enforces the legal transitions of spec.md §4.3:
//
//	uninitialized --initialize--> idle
//	uninitialized --failed initialize--> error
//	idle --watcher detects local changes--> notifying
//	notifying --batch delivered--> idle
//	{idle,notifying} --notifyIncomingChanges--> collecting
//	collecting --applyFileChange--> syncing
//	syncing --syncComplete--> idle
//	{collecting,syncing} --failure--> error
//	error --recover--> idle
//
// transition rejects every other move with an error and leaves the status
// unchanged; Unwatch and Dispose do not change the status. A stateMachine is
// safe for concurrent use.
type stateMachine struct {
	mu     sync.Mutex
	status core.TargetStatus
	err    string
}

// newStateMachine creates a state machine starting in StatusUninitialized.
func newStateMachine() *stateMachine {
	return &stateMachine{status: core.StatusUninitialized}
}

// legal reports whether transitioning from `from` to `to` is permitted.
func legal(from, to core.TargetStatus) bool {
	switch from {
	case core.StatusUninitialized:
		return to == core.StatusIdle || to == core.StatusError
	case core.StatusIdle:
		return to == core.StatusCollecting || to == core.StatusNotifying
	case core.StatusNotifying:
		return to == core.StatusIdle || to == core.StatusCollecting
	case core.StatusCollecting:
		return to == core.StatusSyncing || to == core.StatusError
	case core.StatusSyncing:
		return to == core.StatusIdle || to == core.StatusError
	case core.StatusError:
		return to == core.StatusIdle
	default:
		return false
	}
}

// transition attempts to move the machine to `to`, returning an error if the
// transition is illegal from the current status.
func (s *stateMachine) transition(to core.TargetStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !legal(s.status, to) {
		return syncerr.New(syncerr.KindInvalidOperation, "illegal state transition from "+s.status.String()+" to "+to.String())
	}
	s.status = to
	if to != core.StatusError {
		s.err = ""
	}
	return nil
}

// fail forces the machine into StatusError, recording the triggering error.
// It is used for the {collecting,syncing} --failure--> error edge, which can
// be taken from any non-terminal state in practice (initialization failures
// included).
func (s *stateMachine) fail(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = core.StatusError
	if cause != nil {
		s.err = cause.Error()
	}
}

// current returns the current status and any recorded error.
func (s *stateMachine) current() (core.TargetStatus, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, s.err
}
