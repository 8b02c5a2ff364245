// Package bus owns the contract between the session core and the message bus.
//
// Ownership boundary:
// - well-known service names, object paths, interfaces, properties
// - collaborator interfaces (Mapper, PropertyReader, Caller, Publisher)
// - the published Object capability shape and method dispatch
// - owner existence checks (UserDirectory)
//
// Concrete transports live in subpackages: membus (in-process) and
// dbusconn (D-Bus via godbus).
package bus
