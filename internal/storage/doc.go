// Package storage persists subscriber records.
//
// One row per user who ever sent /start. The subscription flag defaults to
// false and is set only by an explicit subscribe action; rows are never
// deleted. Every operation runs a single short statement, no cross-operation
// transaction is held open.
package storage
