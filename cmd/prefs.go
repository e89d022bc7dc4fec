package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/vinyldeck/internal/shared"
	"github.com/desertthunder/vinyldeck/internal/stores"
	"github.com/urfave/cli/v3"
)

// PrefsShow prints the stored preferences.
func (r *Runner) PrefsShow(ctx context.Context, cmd *cli.Command) error {
	a, err := r.open(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	prefs := a.prefs.Get()
	if cmd.Bool("json") {
		return r.writeJSON(prefs, cmd.Bool("pretty"))
	}

	r.writePlainHeader("Preferences")
	r.writePlain("View mode:      %s\n", prefs.ViewMode)
	r.writePlain("Avatar source:  %s\n", prefs.AvatarSource)
	if prefs.GravatarEmail != "" {
		r.writePlain("Gravatar email: %s\n", prefs.GravatarEmail)
	}
	if prefs.GravatarURL != nil {
		r.writePlain("Gravatar URL:   %s\n", *prefs.GravatarURL)
	}
	if prefs.LastSeenVersion != nil {
		r.writePlain("Last version:   %s\n", *prefs.LastSeenVersion)
	}
	return nil
}

// PrefsSet applies the given preference flags. Values are validated before anything is written.
func (r *Runner) PrefsSet(ctx context.Context, cmd *cli.Command) error {
	var (
		mode   stores.ViewMode
		source stores.AvatarSource
		err    error
	)
	if cmd.IsSet("view-mode") {
		if mode, err = stores.ParseViewMode(cmd.String("view-mode")); err != nil {
			return err
		}
	}
	if cmd.IsSet("avatar-source") {
		if source, err = stores.ParseAvatarSource(cmd.String("avatar-source")); err != nil {
			return err
		}
	}
	if !cmd.IsSet("view-mode") && !cmd.IsSet("avatar-source") && !cmd.IsSet("gravatar-email") && !cmd.Bool("reset-avatar") {
		return fmt.Errorf("%w: nothing to set", shared.ErrMissingArgument)
	}

	a, err := r.open(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if cmd.Bool("reset-avatar") {
		a.prefs.ResetAvatarSettings()
	}
	if mode != "" {
		a.prefs.SetViewMode(mode)
	}
	if source != "" {
		a.prefs.SetAvatarSource(source)
	}
	if cmd.IsSet("gravatar-email") {
		a.prefs.SetGravatarEmail(cmd.String("gravatar-email"))
	}

	r.logger.Debug("preferences updated", "prefs", a.prefs.Get())
	return r.writePlain("✓ Preferences saved\n")
}
