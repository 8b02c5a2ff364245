// Package clock abstracts timer scheduling so watchdog expiry can be
// driven deterministically in tests.
//
// Ownership boundary:
// - wall clock adapter over the time package
// - manually advanced fake with synchronous callbacks
package clock
