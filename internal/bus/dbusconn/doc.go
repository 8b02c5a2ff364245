// Package dbusconn binds the bus collaborator interfaces to a real D-Bus
// connection through godbus.
//
// Ownership boundary:
//   - bus name ownership and object export, with introspection data and
//     ObjectManager announcements the object mapper relies on
//   - mapper, property and method calls against peer services
//   - translation between bus error names and session sentinels
//   - the systemd manager client used by the SSH source
//
// Nothing here is exercised against a live bus in tests; the registry is
// tested on membus instead.
package dbusconn
