// Package storage persists media items in a local SQLite database.
//
// The store is the system of record for item state transitions: the posting
// tick, the metrics tick and the control surface all go through it, one
// short transaction per call. Timestamps are stored as Unix milliseconds so
// range queries stay integer comparisons.
package storage
