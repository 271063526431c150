// Package store persists users, container records, the append-only container
// event log, filesystem node metadata, and beta access requests in a single
// BoltDB file. The node metadata mutations made through one MetaTx (one
// UpdateMeta call) commit together in a single write transaction.
package store
