// Package storage provides the durable backend for task records and the
// job definition snapshot.
//
// Two drivers are available: "file" (one JSON document per task plus a
// full-snapshot jobs file) and "sqlite". In-memory state elsewhere in the
// process is always reconstructable from this store.
package storage
