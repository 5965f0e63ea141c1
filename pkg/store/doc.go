// Package store: see store.go for the Store contract and boltstore.go
// for the BoltDB-backed implementation.
package store
