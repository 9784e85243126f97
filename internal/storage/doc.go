// Package storage defines persistence for mission snapshots.
//
// Missions are stored as the JSON snapshot the mission package produces, so
// a stored record can be hydrated back into a running mission with the
// current target registry. Implementations live in subpackages.
//
// # Error Types
//
//   - ErrNotFound: the requested mission is missing.
package storage
