// Package store persists Integration Records and their derived state in
// SQLite: the records themselves, diff snapshots, the merge event + metrics
// pair, audit notes, and the closing-work-item cache.
//
// The record merge lock is a single compare-and-set UPDATE; see merge.go.
package store
