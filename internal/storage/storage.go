package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// MissionRecord is one stored mission snapshot.
type MissionRecord struct {
	ID        string
	Name      string
	Snapshot  []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MissionSummary is the listing view of a stored mission.
type MissionSummary struct {
	ID        string
	Name      string
	UpdatedAt time.Time
}

// MissionStore persists mission snapshots keyed by mission id.
type MissionStore interface {
	// PutMission inserts or replaces the snapshot. The id and name are read
	// from the snapshot itself.
	PutMission(ctx context.Context, snapshot []byte) (MissionRecord, error)
	GetMission(ctx context.Context, id string) (MissionRecord, error)
	ListMissions(ctx context.Context) ([]MissionSummary, error)
	DeleteMission(ctx context.Context, id string) error
}
