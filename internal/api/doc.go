// Package api exposes one process-scoped registry through calls that return
// errno statuses instead of errors.
//
// Ownership boundary:
// - explicit init and teardown of the process registry, rejecting re-init
// - mapping of session errors to exactly one status
// - the last structured error, kept for callers that only see statuses
// - the reset-on-failure discipline of the transactional calls
package api
