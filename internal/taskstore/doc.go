// Package taskstore tracks individual units of agent work as durable
// TaskRecords.
//
// Records are created "pending" and move through the lifecycle exclusively
// via UpdateStatus, which appends to the record's history and publishes a
// status event. Reads go through a TTL cache validated against the backing
// store's revision marker, so out-of-band edits are picked up without a
// full read on every call.
package taskstore
