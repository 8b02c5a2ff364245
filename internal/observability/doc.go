// Package observability owns process metrics and HTTP request telemetry.
//
// Ownership boundary:
// - prometheus collectors for sessions, transactions, remote calls and admin requests
// - gin middleware for request logging and request metrics
// - tagging the global zerolog logger with app and slug
package observability
