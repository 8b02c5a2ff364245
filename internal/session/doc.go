// Package session owns the session data model.
//
// Ownership boundary:
// - session identifiers and their hex codec
// - session types and their bus enumeration form
// - the local session record (owner association, remote address, cleanup hook)
// - the normalized Info descriptor shared by local and remote views
// - the error taxonomy used across the tree
package session
