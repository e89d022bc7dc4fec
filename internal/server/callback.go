package server

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/desertthunder/vinyldeck/internal/shared"
)

// CallbackResult carries the verifier Discogs attached to the redirect.
type CallbackResult struct {
	RequestToken string
	Verifier     string
	err          error
}

func (c *CallbackResult) Error() error {
	return c.err
}

// CallbackHandler receives the OAuth 1.0a redirect for a single pending request token.
// Implements the Handler interface for registration with a Router.
type CallbackHandler struct {
	requestToken string
	resultChan   chan CallbackResult
	once         sync.Once
	callbackHit  bool
	mu           sync.Mutex
}

// NewCallbackHandler creates a handler that only accepts a redirect for requestToken.
func NewCallbackHandler(requestToken string) *CallbackHandler {
	return &CallbackHandler{
		requestToken: requestToken,
		resultChan:   make(chan CallbackResult, 1),
	}
}

// Routes returns the HTTP routes this handler serves.
func (h *CallbackHandler) Routes() []string {
	return []string{"/callback"}
}

// ServeHTTP handles the redirect. Only the first request is processed.
func (h *CallbackHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if h.callbackHit {
		h.mu.Unlock()
		http.Error(w, "Callback already processed", http.StatusBadRequest)
		return
	}
	h.callbackHit = true
	h.mu.Unlock()

	query := r.URL.Query()
	if query.Has("denied") {
		h.Send(CallbackResult{err: fmt.Errorf("%w: authorization denied", shared.ErrNotAuthenticated)})
		http.Error(w, "Authorization denied", http.StatusBadRequest)
		return
	}

	token := query.Get("oauth_token")
	if token != h.requestToken {
		h.Send(CallbackResult{err: fmt.Errorf("%w: unexpected oauth_token", shared.ErrInvalidInput)})
		http.Error(w, "Invalid oauth_token parameter", http.StatusBadRequest)
		return
	}

	verifier := query.Get("oauth_verifier")
	if verifier == "" {
		h.Send(CallbackResult{err: fmt.Errorf("%w: oauth_verifier", shared.ErrMissingArgument)})
		http.Error(w, "Missing oauth_verifier parameter", http.StatusBadRequest)
		return
	}

	h.Send(CallbackResult{RequestToken: token, Verifier: verifier})

	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `
<!DOCTYPE html>
<html>
<head>
    <title>Authorization Successful</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
               display: flex; align-items: center; justify-content: center; height: 100vh;
               margin: 0; background: #f5f5f5; }
        .container { text-align: center; background: white; padding: 2rem;
                     border-radius: 8px; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
        h1 { color: #333; margin: 0 0 1rem 0; }
        p { color: #666; margin: 0; }
    </style>
</head>
<body>
    <div class="container">
        <h1>✓ Connected to Discogs</h1>
        <p>You can close this window and return to the terminal.</p>
    </div>
</body>
</html>
`)
}

// Send sends the result through the channel (only once).
func (h *CallbackHandler) Send(result CallbackResult) {
	h.once.Do(func() {
		h.resultChan <- result
		close(h.resultChan)
	})
}

// Result returns the result channel for receiving the redirect.
//
// Channel will receive exactly one result and then be closed.
func (h *CallbackHandler) Result() <-chan CallbackResult {
	return h.resultChan
}
