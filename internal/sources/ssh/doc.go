// Package ssh turns dropbear SSH connection units into sessions.
//
// Ownership boundary:
// - the dropbear unit naming rule
// - the unit to session mapping of this process
// - stale unit teardown on startup
// - reacting to unit appearance and removal events
//
// The package talks to systemd only through Units; dbusconn.Systemd is the
// production implementation.
package ssh
