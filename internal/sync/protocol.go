// Package sync implements the Inbetweenies synchronization protocol (§4.4):
// wire types, vector-clock merge, conflict detection/resolution, the client
// state machine, and the server's delta assembly.
package sync

import (
	"github.com/steveyegge/homegraph/internal/storage"
	"github.com/steveyegge/homegraph/internal/types"
)

// ProtocolVersion is the only version this implementation speaks (§6).
const ProtocolVersion = "inbetweenies-v2"

// ResolutionMode picks how the server resolves a divergent conflict. The
// request always names its mode explicitly (DESIGN NOTES §9 "open question");
// the server never infers one.
type ResolutionMode string

const (
	ResolutionLWW   ResolutionMode = "lww"
	ResolutionMerge ResolutionMode = "merge"
)

// ChangeKind enumerates what a Change record carries.
type ChangeKind string

const (
	ChangeCreate ChangeKind = "create"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
)

// Change is one entry in a sync request or response's changes[] list.
type Change struct {
	Kind         ChangeKind                `json:"kind"`
	Entity       *types.Entity             `json:"entity,omitempty"`
	Relationship *types.EntityRelationship `json:"relationship,omitempty"`
}

// Request is one Inbetweenies exchange request (§4.4).
type Request struct {
	ProtocolVersion string              `json:"protocol_version"`
	DeviceID        string              `json:"device_id"`
	UserID          string              `json:"user_id"`
	VectorClock     storage.VectorClock `json:"vector_clock"`
	Changes         []Change            `json:"changes"`
	ResolutionMode  ResolutionMode      `json:"resolution_mode"`
}

// ConflictRecord reports one divergence the server resolved while applying a
// request, so the client can see both sides and the mode actually used.
type ConflictRecord struct {
	EntityID       string         `json:"entity_id"`
	LocalVersion   string         `json:"local_version"`
	RemoteVersion  string         `json:"remote_version"`
	WinnerVersion  string         `json:"winner_version"`
	ResolutionMode ResolutionMode `json:"resolution_mode"`
}

// Response is one Inbetweenies exchange response (§4.4).
type Response struct {
	VectorClock storage.VectorClock `json:"vector_clock"`
	Changes     []Change            `json:"changes"`
	Conflicts   []ConflictRecord    `json:"conflicts"`
	Cursor      string              `json:"cursor,omitempty"`
	FailedAt    int                 `json:"failed_at,omitempty"`
}

// BatchMax is the default maximum number of change records per exchange (§6).
const BatchMax = 1000
