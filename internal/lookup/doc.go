// Package lookup finds sessions published by peer registries.
//
// Ownership boundary:
// - structural scan of the session namespace through the object directory
// - per-candidate property fetch and normalization into session.Info
// - local-wins merge of local and remote views
//
// Per-candidate failures never abort a query; they are logged and skipped.
package lookup
