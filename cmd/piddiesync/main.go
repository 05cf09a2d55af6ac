// Command piddiesync is a thin demo binary showing how
// pkg/filemanagement.Service is wired up end to end: one primary directory,
// any number of secondary directories, kept convergent by the sync engine.
// It is not part of the synchronization core's public contract — it exists
// the way cmd/mutagen exists relative to the teacher's pkg/... tree, a
// outer shim around a library.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mrsimpson/piddie-sync/pkg/config"
	"github.com/mrsimpson/piddie-sync/pkg/filemanagement"
	"github.com/mrsimpson/piddie-sync/pkg/filesystem/localfs"
	"github.com/mrsimpson/piddie-sync/pkg/logging"
)

var rootConfiguration struct {
	secondaries       []string
	inactivityDelayMS int64
	maxBatchSize      int
	logLevel          string
}

var rootCommand = &cobra.Command{
	Use:   "piddiesync <primary-directory>",
	Short: "Keep a primary directory and its secondaries synchronized",
	Args:  cobra.ExactArgs(1),
	RunE:  rootMain,
}

func init() {
	flags := rootCommand.Flags()
	flags.StringArrayVarP(&rootConfiguration.secondaries, "secondary", "s", nil,
		"a secondary directory to keep in sync with the primary (repeatable)")
	flags.Int64Var(&rootConfiguration.inactivityDelayMS, "inactivity-delay", config.DefaultInactivityDelayMS,
		"inactivity delay in milliseconds, stored in the manager configuration (watchers keep their own debounce window)")
	flags.IntVar(&rootConfiguration.maxBatchSize, "max-batch-size", config.DefaultMaxBatchSize,
		"batch-size limit stored in the manager configuration (watcher batches are not capped by it)")
	flags.StringVarP(&rootConfiguration.logLevel, "log-level", "l", "info",
		"log level: disabled, error, warn, info, debug, or trace")
}

func rootMain(command *cobra.Command, arguments []string) error {
	level, ok := logging.NameToLevel(rootConfiguration.logLevel)
	if !ok {
		return fmt.Errorf("invalid log level %q", rootConfiguration.logLevel)
	}
	logger := logging.NewLogger(level)

	service := filemanagement.New(logger)

	primaryFS := localfs.New(arguments[0], false)
	cfg := config.ManagerConfig{
		InactivityDelayMS: rootConfiguration.inactivityDelayMS,
		MaxBatchSize:      rootConfiguration.maxBatchSize,
	}
	if err := service.Initialize(primaryFS, cfg); err != nil {
		return fmt.Errorf("unable to initialize primary: %w", err)
	}
	defer service.Dispose()

	for i, dir := range rootConfiguration.secondaries {
		id := fmt.Sprintf("secondary-%d", i+1)
		if _, err := service.RegisterSecondary(id, localfs.New(dir, false)); err != nil {
			return fmt.Errorf("unable to register secondary %s (%s): %w", id, dir, err)
		}
		logger.Printf("watching secondary %s at %s", id, dir)
	}

	logger.Printf("watching primary at %s", arguments[0])

	watchCtx, cancelWatch := context.WithCancel(context.Background())
	defer cancelWatch()
	go logPhaseTransitions(watchCtx, service, logger)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	<-signals

	logger.Println("shutting down")
	return nil
}

// logPhaseTransitions long-polls the manager's status index and logs each
// time the overall phase changes, until ctx is cancelled or the manager is
// disposed (at which point WaitForStatusChange returns an error and the
// loop exits).
func logPhaseTransitions(ctx context.Context, service *filemanagement.Service, logger *logging.Logger) {
	var previousIndex uint64
	var previousPhase string
	for {
		status, index, err := service.Manager().WaitForStatusChange(ctx, previousIndex)
		if err != nil {
			return
		}
		previousIndex = index
		if status.Phase != previousPhase {
			logger.Printf("phase: %s", status.Phase)
			previousPhase = status.Phase
		}
	}
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "piddiesync:", err)
		os.Exit(1)
	}
}
