// Package server exposes the local registry over an admin HTTP surface.
//
// Ownership boundary:
// - health, readiness and metrics endpoints
// - session listing, lookup and removal endpoints
// - transaction inspection and reset endpoints
// - bearer token enforcement for everything except health, readiness and metrics
package server
