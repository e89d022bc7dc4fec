package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/vinyldeck/internal/tasks"
)

// SyncController is the part of [tasks.CollectionSync] the watcher drives.
type SyncController interface {
	Descriptor() *tasks.SyncPendingDescriptor
	Subscribe(fn func(*tasks.SyncPendingDescriptor)) func()
	Focus(ctx context.Context) error
	RefreshCollection(ctx context.Context) error
	Minimize()
	Open()
}

var _ SyncController = (*tasks.CollectionSync)(nil)

// Model represents the TUI application state.
type Model struct {
	ctx         context.Context
	sync        SyncController
	username    string
	descriptor  *tasks.SyncPendingDescriptor
	changed     chan struct{}
	unsubscribe func()
	progress    <-chan tasks.ProgressUpdate
	lastUpdate  tasks.ProgressUpdate
	refreshing  bool
	refreshErr  error
	checkErr    error
	checked     bool
	spinner     spinner.Model
	help        help.Model
	keys        keyMap
	width       int
}

// NewModel creates a watcher for sync. progress may be nil.
func NewModel(ctx context.Context, sync SyncController, username string, progress <-chan tasks.ProgressUpdate) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = styles.warn

	m := &Model{
		ctx:      ctx,
		sync:     sync,
		username: username,
		changed:  make(chan struct{}, 1),
		progress: progress,
		spinner:  s,
		help:     help.New(),
		keys:     newKeyMap(),
	}
	m.descriptor = sync.Descriptor()
	m.unsubscribe = sync.Subscribe(func(*tasks.SyncPendingDescriptor) {
		select {
		case m.changed <- struct{}{}:
		default:
		}
	})
	return m
}

// Init starts the spinner and listeners, and checks for changes once.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForChange(), m.waitForProgress(), m.check())
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case tea.FocusMsg:
		return m, m.check()

	case tea.KeyMsg:
		return m.handleKeys(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case Msg:
		switch msg.kind {
		case MsgDescriptor:
			m.descriptor, _ = msg.data.(*tasks.SyncPendingDescriptor)
			return m, m.waitForChange()
		case MsgProgress:
			m.lastUpdate, _ = msg.data.(tasks.ProgressUpdate)
			return m, m.waitForProgress()
		case MsgRefreshDone:
			m.refreshing = false
			m.refreshErr = msg.err()
			m.lastUpdate = tasks.ProgressUpdate{}
			m.descriptor = m.sync.Descriptor()
			return m, nil
		case MsgCheckDone:
			m.checkErr = msg.err()
			m.checked = m.checked || m.checkErr == nil
			m.descriptor = m.sync.Descriptor()
			return m, nil
		}
	}

	return m, nil
}

func (m *Model) handleKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		m.Close()
		return m, tea.Quit
	case key.Matches(msg, m.keys.refresh):
		if m.refreshing {
			return m, nil
		}
		m.refreshing = true
		m.refreshErr = nil
		return m, m.refresh()
	case key.Matches(msg, m.keys.minimize):
		m.sync.Minimize()
		m.descriptor = m.sync.Descriptor()
	case key.Matches(msg, m.keys.open):
		m.sync.Open()
		m.descriptor = m.sync.Descriptor()
	case key.Matches(msg, m.keys.check):
		return m, m.check()
	}
	return m, nil
}

// Close stops listening for sync-state changes.
func (m *Model) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
}

func (m *Model) refresh() tea.Cmd {
	return func() tea.Msg {
		return refreshDoneMsg(m.sync.RefreshCollection(m.ctx))
	}
}

func (m *Model) check() tea.Cmd {
	return func() tea.Msg {
		return checkDoneMsg(m.sync.Focus(m.ctx))
	}
}

func (m *Model) waitForChange() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-m.ctx.Done():
			return nil
		case <-m.changed:
			return descriptorMsg(m.sync.Descriptor())
		}
	}
}

func (m *Model) waitForProgress() tea.Cmd {
	if m.progress == nil {
		return nil
	}
	return func() tea.Msg {
		select {
		case <-m.ctx.Done():
			return nil
		case update, ok := <-m.progress:
			if !ok {
				return nil
			}
			return progressMsg(update)
		}
	}
}

// View renders the sync toast and contextual help.
func (m *Model) View() string {
	var b strings.Builder

	title := "Collection sync"
	if m.username != "" {
		title = fmt.Sprintf("Collection sync · %s", m.username)
	}
	b.WriteString(styles.title.Render(title))
	b.WriteString("\n")
	b.WriteString(m.renderToast())
	b.WriteString("\n")

	if m.checkErr != nil {
		b.WriteString(styles.warn.Render(fmt.Sprintf("Could not check for changes: %v", m.checkErr)))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.help.ShortHelpView(m.helpKeys()))
	return b.String()
}

func (m *Model) helpKeys() []key.Binding {
	d := m.descriptor
	switch {
	case m.refreshing:
		return []key.Binding{m.keys.quit}
	case d != nil && d.Status == tasks.StatusPending && d.IsMinimized:
		return []key.Binding{m.keys.open, m.keys.refresh, m.keys.quit}
	case d != nil && d.Status == tasks.StatusPending:
		return []key.Binding{m.keys.refresh, m.keys.minimize, m.keys.quit}
	default:
		return []key.Binding{m.keys.check, m.keys.refresh, m.keys.quit}
	}
}

func (m *Model) renderToast() string {
	d := m.descriptor

	if m.refreshing || (d != nil && d.Status == tasks.StatusRefreshing) {
		line := fmt.Sprintf("%s %s", m.spinner.View(), "Refreshing collection…")
		if d != nil && d.Status == tasks.StatusRefreshing && d.Message != "" {
			line = fmt.Sprintf("%s %s", m.spinner.View(), d.Message)
		}
		if m.lastUpdate.Message != "" {
			line += "\n" + styles.help.Render(m.lastUpdate.Message)
		}
		return styles.toast.Render(line)
	}

	if m.refreshErr != nil {
		msg := "Could not refresh your collection. Try again."
		if d != nil && d.RefreshFailedMessage != "" {
			msg = d.RefreshFailedMessage
		}
		return styles.toast.Render(styles.err.Render(msg))
	}

	switch {
	case d != nil && d.IsMinimized:
		return styles.warn.Render(fmt.Sprintf("● %d new · %d removed", d.Counts.NewItems, d.Counts.DeletedItems))
	case d != nil:
		return styles.toast.Render(styles.warn.Render(d.Message))
	case !m.checked:
		return styles.help.Render("Checking your collection…")
	default:
		return styles.ok.Render("✓ Your collection is up to date")
	}
}
