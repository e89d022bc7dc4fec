package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/vinyldeck/internal/auth"
	"github.com/desertthunder/vinyldeck/internal/shared"
	"github.com/desertthunder/vinyldeck/internal/tasks"
	"github.com/desertthunder/vinyldeck/internal/ui"
	"github.com/urfave/cli/v3"
)

const (
	defaultLogFile      = ".vinyldeck/vinyldeck.log"
	networkProbeEvery   = 30 * time.Second
	storagePollInterval = 2 * time.Second
)

type syncStatus struct {
	Username string                       `json:"username"`
	Pending  *tasks.SyncPendingDescriptor `json:"pending"`
}

// SyncStatus polls for changes unless --offline is set and prints the pending descriptor.
func (r *Runner) SyncStatus(ctx context.Context, cmd *cli.Command) error {
	a, err := r.open(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	username, _, err := a.identity(ctx)
	if err != nil {
		return err
	}

	if !cmd.Bool("offline") {
		if err := a.sync.Focus(ctx); err != nil {
			r.logger.Warn("change detection failed", "err", err)
		}
	}

	status := syncStatus{Username: username, Pending: a.sync.Descriptor()}
	if cmd.Bool("json") {
		return r.writeJSON(status, cmd.Bool("pretty"))
	}

	if status.Pending == nil {
		return r.writePlain("✓ %s's collection is up to date\n", username)
	}
	r.writePlain("%s\n", status.Pending.Message)
	if status.Pending.IsMinimized {
		r.writePlain("(minimized)\n")
	}
	return r.writePlain("Run 'vinyldeck collection refresh' to update.\n")
}

// SyncWatch runs the change detection loop behind the interactive view. Logs go to a file
// while the view owns the terminal.
func (r *Runner) SyncWatch(ctx context.Context, cmd *cli.Command) error {
	logger, err := shared.NewFileLogger(cmd.String("log-file"))
	if err != nil {
		return err
	}
	previous := r.logger
	r.SetLogger(logger)
	defer r.SetLogger(previous)

	a, err := r.open(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	a.session.WatchExternal(a.durable)
	a.session.Init()
	a.session.Flush()
	if !a.session.State().IsAuthenticated {
		return fmt.Errorf("%w: run 'vinyldeck auth login' first", shared.ErrNotAuthenticated)
	}

	username, _, err := a.identity(ctx)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	for _, fn := range []func(context.Context){
		a.sync.Start,
		func(ctx context.Context) { a.network.Watch(ctx, networkProbeEvery) },
		func(ctx context.Context) { a.durable.Watch(ctx, storagePollInterval) },
	} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}

	unsubscribe := a.session.Subscribe(func(st auth.AuthState) {
		if !st.IsAuthenticated && !st.IsLoading {
			logger.Info("session ended, closing view")
			cancel()
		}
	})
	defer unsubscribe()

	model := ui.NewModel(ctx, a.sync, username, a.progress)
	defer model.Close()

	p := tea.NewProgram(model, tea.WithContext(ctx), tea.WithReportFocus())
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("failed to run view: %w", err)
	}
	return nil
}
