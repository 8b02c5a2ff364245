// Package registry owns the sessions published under one bus identity.
//
// Ownership boundary:
// - the local session table and id allocation
// - the two-phase build transaction and its watchdog
// - local and distributed removal, enumeration and description
// - the bus objects for sessions and for the build interface
//
// A single mutex serializes the table and the pending transaction. The
// watchdog is a clock timer tagged with the transaction generation; on fire
// it acts only if that generation is still pending. Bus round trips and
// cleanup callbacks always run with the mutex released.
package registry
