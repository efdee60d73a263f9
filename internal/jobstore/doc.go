// Package jobstore is the durable, validated store for recurring job
// definitions.
//
// The whole job list is one schema-versioned snapshot; every mutation
// validates first and then rewrites the snapshot in full, so readers
// never observe a partial write. Load() drops invalid records with a
// warning rather than failing the whole load.
package jobstore
