package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/desertthunder/vinyldeck/internal/server"
	"github.com/desertthunder/vinyldeck/internal/shared"
	"github.com/desertthunder/vinyldeck/internal/stores"
	"github.com/urfave/cli/v3"
)

const callbackTimeout = 2 * time.Minute

// AuthLogin runs the OAuth handshake: request token, browser authorization, local callback,
// access token, then session establishment.
func (r *Runner) AuthLogin(ctx context.Context, cmd *cli.Command) error {
	a, err := r.open(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.oauth == nil {
		return fmt.Errorf("%w: set discogs.consumer_key and discogs.consumer_secret or discogs.relay_url", shared.ErrMissingCredentials)
	}

	callbackURL := a.config.Discogs.CallbackURL
	parsed, err := url.Parse(callbackURL)
	if err != nil || parsed.Host == "" {
		return fmt.Errorf("%w: invalid callback_url %q", shared.ErrInvalidConfig, callbackURL)
	}

	r.logger.Info("requesting OAuth token")
	token, err := a.oauth.RequestToken(ctx, callbackURL)
	if err != nil {
		return fmt.Errorf("failed to get request token: %w", err)
	}

	handler := server.NewCallbackHandler(token.RequestToken)
	router := server.NewBasicRouter()
	router.Handler(handler)
	if parsed.Path != "" && parsed.Path != "/callback" {
		router.Handle(http.MethodGet, parsed.Path, handler)
	}

	listener, err := net.Listen("tcp", parsed.Host)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", parsed.Host, err)
	}
	srv := server.NewHTTPServer(parsed.Host, router)
	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if cmd.Bool("no-browser") {
		r.writePlain("Open this URL to authorize vinyldeck:\n%s\n", token.AuthorizeURL)
	} else if err := r.openBrowser(token.AuthorizeURL); err != nil {
		r.logger.Warn("failed to open browser", "err", err)
		r.writePlain("Open this URL to authorize vinyldeck:\n%s\n", token.AuthorizeURL)
	}

	timeout := cmd.Duration("timeout")
	if timeout <= 0 {
		timeout = callbackTimeout
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var result server.CallbackResult
	select {
	case result = <-handler.Result():
	case err := <-serveErr:
		return fmt.Errorf("callback server failed: %w", err)
	case <-waitCtx.Done():
		return fmt.Errorf("%w: no authorization received: %v", shared.ErrNotAuthenticated, waitCtx.Err())
	}
	if err := result.Error(); err != nil {
		return fmt.Errorf("authorization failed: %w", err)
	}

	tokens, err := a.oauth.AccessToken(ctx, token.RequestToken, token.RequestTokenSecret, result.Verifier)
	if err != nil {
		return fmt.Errorf("failed to exchange verifier: %w", err)
	}

	if err := a.session.EstablishSession(ctx, tokens); err != nil {
		return err
	}
	a.session.Flush()

	username := ""
	if p := a.profile.Profile(); p != nil {
		username = p.Username
	}
	r.logger.Info("authentication successful", "username", username)
	return r.writePlain("✓ Connected to Discogs as %s\n", username)
}

// AuthContinue re-establishes a signed-out session from stored tokens.
func (r *Runner) AuthContinue(ctx context.Context, cmd *cli.Command) error {
	a, err := r.open(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	a.network.Check(ctx)
	if err := a.session.EstablishSession(ctx, nil); err != nil {
		if errors.Is(err, shared.ErrOfflineNoCache) {
			return fmt.Errorf("%w: connect to the internet and try again", err)
		}
		return err
	}
	a.session.Flush()

	username := ""
	if p := a.profile.Profile(); p != nil {
		username = p.Username
	}
	return r.writePlain("✓ Welcome back, %s\n", username)
}

type authStatus struct {
	Authenticated   bool   `json:"authenticated"`
	Phase           string `json:"phase"`
	Online          bool   `json:"online"`
	HasStoredTokens bool   `json:"hasStoredTokens"`
	Username        string `json:"username,omitempty"`
	Email           string `json:"email,omitempty"`
	AvatarURL       string `json:"avatarUrl,omitempty"`
}

// AuthStatus evaluates the stored session, waiting for background validation to settle.
func (r *Runner) AuthStatus(ctx context.Context, cmd *cli.Command) error {
	a, err := r.open(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	a.network.Check(ctx)
	a.session.Init()
	a.session.Flush()

	st := a.session.State()
	status := authStatus{
		Authenticated:   st.IsAuthenticated,
		Phase:           a.session.Phase().String(),
		Online:          st.IsOnline,
		HasStoredTokens: st.HasStoredTokens,
	}
	if p := a.profile.Profile(); p != nil {
		status.Username = p.Username
		status.Email = p.Email
		status.AvatarURL = p.AvatarURL
		if prefs := a.prefs.Get(); prefs.AvatarSource == stores.AvatarGravatar && prefs.GravatarURL != nil {
			status.AvatarURL = *prefs.GravatarURL
		}
	}

	if cmd.Bool("json") {
		return r.writeJSON(status, cmd.Bool("pretty"))
	}

	r.writePlainHeader("Discogs Session")
	switch {
	case status.Authenticated:
		r.writePlain("✓ Signed in as %s (%s)\n", status.Username, status.Phase)
	case status.HasStoredTokens:
		r.writePlain("Signed out. Run 'vinyldeck auth continue' to resume.\n")
	default:
		r.writePlain("Not connected. Run 'vinyldeck auth login'.\n")
	}
	if status.Email != "" {
		r.writePlain("Email: %s\n", status.Email)
	}
	if status.AvatarURL != "" {
		r.writePlain("Avatar: %s\n", status.AvatarURL)
	}
	if !status.Online {
		r.writePlain("Offline\n")
	}
	if status.Authenticated {
		r.noticeVersion(a)
	}
	return nil
}

// noticeVersion announces an upgrade once per version for a signed-in user.
func (r *Runner) noticeVersion(a *app) {
	prefs := a.prefs.Get()
	if prefs.LastSeenVersion != nil && *prefs.LastSeenVersion == shared.AppVersion {
		return
	}
	if prefs.LastSeenVersion != nil {
		r.writePlain("Updated to vinyldeck %s (was %s)\n", shared.AppVersion, *prefs.LastSeenVersion)
	}
	a.prefs.SetLastSeenVersion(shared.AppVersion)
}

// AuthSignOut ends the session and keeps the tokens for a later 'auth continue'.
func (r *Runner) AuthSignOut(ctx context.Context, cmd *cli.Command) error {
	a, err := r.open(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	a.session.SignOut()
	a.session.Flush()
	return r.writePlain("✓ Signed out\n")
}

// AuthDisconnect removes the tokens, profile, sync state, and cached data.
func (r *Runner) AuthDisconnect(ctx context.Context, cmd *cli.Command) error {
	a, err := r.open(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	a.session.Disconnect()
	a.session.Flush()
	return r.writePlain("✓ Disconnected from Discogs\n")
}
