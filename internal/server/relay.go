package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/vinyldeck/internal/services"
	"github.com/desertthunder/vinyldeck/internal/shared"
)

// RouteHealth reports liveness.
const RouteHealth = "/health"

const maxBodyBytes = 1 << 20

// DefaultCallbackOrigins are allowed when no origins are configured.
var DefaultCallbackOrigins = []string{"http://localhost:5173", "http://localhost:4173"}

// Relay signs Discogs requests on behalf of clients that do not hold the consumer secret.
// It keeps no state between requests; token pairs travel in each request body.
type Relay struct {
	discogs services.Discogs
	oauth   services.OAuth
	origins []string
	logger  *log.Logger
}

// RelayOpts configures a [Relay]. OAuth may be nil, in which case the OAuth routes fail.
type RelayOpts struct {
	Discogs        services.Discogs
	OAuth          services.OAuth
	AllowedOrigins []string
	Logger         *log.Logger
}

// NewRelay creates a [Relay], normalizing the origin allowlist.
func NewRelay(opts RelayOpts) *Relay {
	logger := opts.Logger
	if logger == nil {
		logger = shared.DiscardLogger()
	}

	origins := make([]string, 0, len(opts.AllowedOrigins))
	for _, o := range opts.AllowedOrigins {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			origins = append(origins, strings.ToLower(o))
		}
	}
	if len(origins) == 0 {
		origins = slices.Clone(DefaultCallbackOrigins)
	}

	return &Relay{
		discogs: opts.Discogs,
		oauth:   opts.OAuth,
		origins: origins,
		logger:  shared.WithLogger(logger, "component", "relay"),
	}
}

// Origins returns the effective callback origin allowlist.
func (s *Relay) Origins() []string { return slices.Clone(s.origins) }

// Register binds every relay route on r.
func (s *Relay) Register(r Router) {
	r.Handle(http.MethodPost, services.RouteRequestToken, http.HandlerFunc(s.requestToken))
	r.Handle(http.MethodPost, services.RouteAccessToken, http.HandlerFunc(s.accessToken))
	r.Handle(http.MethodPost, services.RouteIdentity, http.HandlerFunc(s.identity))
	r.Handle(http.MethodPost, services.RouteCollection, http.HandlerFunc(s.collection))
	r.Handle(http.MethodPost, services.RouteProfile, http.HandlerFunc(s.profile))
	r.Handle(http.MethodPost, services.RouteMetadata, http.HandlerFunc(s.metadata))
	r.Handle(http.MethodGet, RouteHealth, http.HandlerFunc(s.health))
}

// NewRelayRouter returns a router with the standard middleware stack and every relay route.
func NewRelayRouter(relay *Relay, logger *log.Logger) *BasicRouter {
	if logger == nil {
		logger = shared.DiscardLogger()
	}
	r := NewBasicRouter()
	r.Use(RequestID(), Logging(logger), Recover(logger), JSONContent())
	relay.Register(r)
	r.mux.Handle("/", r.Apply(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeErrorStatus(w, http.StatusNotFound, "Not found")
	})))
	return r
}

// CheckCallbackOrigin accepts callbackURL only when its origin is in allowed.
// Entries in allowed are lowercase origins without a trailing slash.
func CheckCallbackOrigin(callbackURL string, allowed []string) error {
	u, err := url.Parse(callbackURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: %q", shared.ErrInvalidCallback, callbackURL)
	}
	if !slices.Contains(allowed, origin(u)) {
		return fmt.Errorf("%w: %s", shared.ErrInvalidCallback, origin(u))
	}
	return nil
}

// origin serializes scheme, host and any non-default port.
func origin(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port == "" {
		return scheme + "://" + host
	}
	return scheme + "://" + host + ":" + port
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is required", shared.ErrInvalidInput)
		}
		return fmt.Errorf("%w: malformed request body: %v", shared.ErrInvalidInput, err)
	}
	return nil
}

func (s *Relay) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Relay) requestToken(w http.ResponseWriter, r *http.Request) {
	const op = "get request token"
	var body services.RequestTokenRequest
	if err := decode(w, r, &body); err != nil {
		writeError(w, err, op)
		return
	}
	if err := CheckCallbackOrigin(body.CallbackURL, s.origins); err != nil {
		s.logger.Warn("rejected callback", "callback_url", body.CallbackURL, "request_id", RequestIDFrom(r.Context()))
		writeErrorStatus(w, http.StatusBadRequest, "Invalid callback URL origin")
		return
	}
	if s.oauth == nil {
		writeError(w, shared.ErrMissingCredentials, op)
		return
	}

	token, err := s.oauth.RequestToken(r.Context(), body.CallbackURL)
	if err != nil {
		writeError(w, err, op)
		return
	}
	writeJSON(w, http.StatusOK, token)
}

func (s *Relay) accessToken(w http.ResponseWriter, r *http.Request) {
	const op = "get access token"
	var body services.AccessTokenRequest
	if err := decode(w, r, &body); err != nil {
		writeError(w, err, op)
		return
	}
	if body.RequestToken == "" || body.RequestTokenSecret == "" || body.Verifier == "" {
		writeError(w, fmt.Errorf("%w: requestToken, requestTokenSecret and verifier are required", shared.ErrInvalidInput), op)
		return
	}
	if s.oauth == nil {
		writeError(w, shared.ErrMissingCredentials, op)
		return
	}

	tokens, err := s.oauth.AccessToken(r.Context(), body.RequestToken, body.RequestTokenSecret, body.Verifier)
	if err != nil {
		writeError(w, err, op)
		return
	}
	writeJSON(w, http.StatusOK, tokens)
}

func (s *Relay) identity(w http.ResponseWriter, r *http.Request) {
	const op = "get identity"
	var body services.IdentityRequest
	if err := decode(w, r, &body); err != nil {
		writeError(w, err, op)
		return
	}

	identity, err := s.discogs.GetIdentity(r.Context(), body.Tokens())
	if err != nil {
		writeError(w, err, op)
		return
	}
	writeJSON(w, http.StatusOK, identity)
}

// collectionParams applies defaults to body and validates the result.
func collectionParams(body services.CollectionRequest) (int, services.CollectionParams, error) {
	if body.Username == "" {
		return 0, services.CollectionParams{}, fmt.Errorf("%w: username is required", shared.ErrInvalidInput)
	}

	folderID := 0
	if body.FolderID != nil {
		folderID = *body.FolderID
	}
	if folderID < 0 {
		return 0, services.CollectionParams{}, fmt.Errorf("%w: folderId must not be negative", shared.ErrInvalidInput)
	}

	params := services.CollectionParams{
		Page:      1,
		PerPage:   services.DefaultPerPage,
		Sort:      body.Sort,
		SortOrder: body.SortOrder,
	}
	if body.Page != nil {
		if *body.Page < 1 {
			return 0, params, fmt.Errorf("%w: page must be at least 1", shared.ErrInvalidInput)
		}
		params.Page = *body.Page
	}
	if body.PerPage != nil {
		if *body.PerPage < 1 {
			return 0, params, fmt.Errorf("%w: perPage must be at least 1", shared.ErrInvalidInput)
		}
		params.PerPage = *body.PerPage
	}
	if err := params.Validate(); err != nil {
		return 0, params, err
	}
	return folderID, params, nil
}

func (s *Relay) collection(w http.ResponseWriter, r *http.Request) {
	const op = "get collection"
	var body services.CollectionRequest
	if err := decode(w, r, &body); err != nil {
		writeError(w, err, op)
		return
	}
	folderID, params, err := collectionParams(body)
	if err != nil {
		writeError(w, err, op)
		return
	}

	resp, err := s.discogs.GetCollectionReleases(r.Context(), body.Tokens(), body.Username, folderID, params)
	if err != nil {
		writeError(w, err, op)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Relay) profile(w http.ResponseWriter, r *http.Request) {
	const op = "get user profile"
	var body services.UserRequest
	if err := decode(w, r, &body); err != nil {
		writeError(w, err, op)
		return
	}
	if body.Username == "" {
		writeError(w, fmt.Errorf("%w: username is required", shared.ErrInvalidInput), op)
		return
	}

	profile, err := s.discogs.GetUserProfile(r.Context(), body.Tokens(), body.Username)
	if err != nil {
		writeError(w, err, op)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Relay) metadata(w http.ResponseWriter, r *http.Request) {
	const op = "get collection metadata"
	var body services.UserRequest
	if err := decode(w, r, &body); err != nil {
		writeError(w, err, op)
		return
	}
	if body.Username == "" {
		writeError(w, fmt.Errorf("%w: username is required", shared.ErrInvalidInput), op)
		return
	}

	meta, err := s.discogs.GetCollectionMetadata(r.Context(), body.Tokens(), body.Username)
	if err != nil {
		writeError(w, err, op)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}
