// Package membus is an in-process bus for tests and single-process
// deployments.
//
// Ownership boundary:
// - name ownership and object publication per connection
// - object directory queries over everything published on the hub
// - synchronous method dispatch and property reads
// - fault injection for peers and the directory
package membus
