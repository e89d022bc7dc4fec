package ui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/vinyldeck/internal/tasks"
)

// MsgKind enumerates all message types in the application.
type MsgKind int

// Msg represents all possible messages in the TUI (Elm-style message union).
type Msg struct {
	kind MsgKind
	data any
}

var (
	_ tea.Msg = Msg{}
)

const (
	MsgDescriptor MsgKind = iota
	MsgProgress
	MsgRefreshDone
	MsgCheckDone
)

// descriptorMsg is the constructor for [MsgDescriptor]
func descriptorMsg(d *tasks.SyncPendingDescriptor) Msg {
	return Msg{kind: MsgDescriptor, data: d}
}

// progressMsg is the constructor for [MsgProgress]
func progressMsg(update tasks.ProgressUpdate) Msg {
	return Msg{kind: MsgProgress, data: update}
}

// refreshDoneMsg is the constructor for [MsgRefreshDone]
func refreshDoneMsg(err error) Msg {
	return Msg{kind: MsgRefreshDone, data: err}
}

// checkDoneMsg is the constructor for [MsgCheckDone]
func checkDoneMsg(err error) Msg {
	return Msg{kind: MsgCheckDone, data: err}
}

func (m Msg) err() error {
	err, _ := m.data.(error)
	return err
}
