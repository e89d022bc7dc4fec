// Package auth keeps the signed-in session consistent with the persisted auth state.
//
// A [Session] derives an [AuthState] from the auth, profile, and connectivity state. Stored
// tokens with an active session authenticate immediately and are validated against the
// identity endpoint in the background. Rejected credentials disconnect the account and clear
// every cache; transient failures are logged and retried on the next trigger.
//
// State re-evaluation and cache clearing are queued on a single dispatcher goroutine so they
// never run inside the action that caused them. [Session.Flush] waits for queued and background
// work to finish.
//
// A [CrossTabListener] reports auth writes made by other processes sharing the same storage.
// It only reads; reacting to the change is left to the handler.
package auth
