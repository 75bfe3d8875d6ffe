package sync

import (
	"context"

	"github.com/steveyegge/homegraph/internal/errkind"
	"github.com/steveyegge/homegraph/internal/idgen"
	"github.com/steveyegge/homegraph/internal/storage"
	"github.com/steveyegge/homegraph/internal/types"
)

// Service is the server side of the protocol: delta assembly, conflict
// detection, and vector-clock merge for one peer exchange (§4.4).
type Service struct {
	Store     storage.Store
	BatchMax  int
	Versions  *idgen.VersionClock // issues merge-version strings for this replica
}

// NewService constructs a Service with the configured batch size (§6,
// sync_batch_max), defaulting to BatchMax when batchMax <= 0.
func NewService(store storage.Store, batchMax int, versions *idgen.VersionClock) *Service {
	if batchMax <= 0 {
		batchMax = BatchMax
	}
	return &Service{Store: store, BatchMax: batchMax, Versions: versions}
}

// HandleRequest applies req's changes, assembles the peer's delta, and
// returns the merged vector clock plus any conflicts encountered (§4.4).
func (s *Service) HandleRequest(ctx context.Context, req *Request) (*Response, error) {
	if req.ProtocolVersion != ProtocolVersion {
		return nil, errkind.New(errkind.ProtocolMismatch, "unsupported protocol_version %q", req.ProtocolVersion)
	}

	mode := req.ResolutionMode
	if mode == "" {
		mode = ResolutionLWW
	}

	var conflicts []ConflictRecord
	clock := storage.VectorClock{}
	for k, v := range req.VectorClock {
		clock[k] = v
	}

	for i, change := range req.Changes {
		if err := s.applyChange(ctx, change, mode, clock, &conflicts); err != nil {
			resp := &Response{VectorClock: clock, Conflicts: conflicts, FailedAt: i}
			return resp, errkind.Wrap(errkind.StoreUnavailable, err, "apply change %d", i)
		}
	}

	changeSet, err := s.Store.ChangesSince(ctx, clock)
	if err != nil {
		return nil, err
	}

	changes, cursor := s.assembleBatch(changeSet)
	for _, c := range changes {
		if c.Entity != nil {
			AdvanceVectorClock(clock, writerOf(c.Entity.Version), c.Entity.Version)
		}
	}

	return &Response{
		VectorClock: clock,
		Changes:     changes,
		Conflicts:   conflicts,
		Cursor:      cursor,
	}, nil
}

func (s *Service) assembleBatch(cs *storage.ChangeSet) ([]Change, string) {
	var out []Change
	for _, e := range cs.Entities {
		out = append(out, Change{Kind: ChangeUpdate, Entity: e})
	}
	for _, r := range cs.Relationships {
		out = append(out, Change{Kind: ChangeCreate, Relationship: r})
	}
	if len(out) > s.BatchMax {
		return out[:s.BatchMax], "more"
	}
	return out, ""
}

func (s *Service) applyChange(ctx context.Context, change Change, mode ResolutionMode, clock storage.VectorClock, conflicts *[]ConflictRecord) error {
	switch {
	case change.Entity != nil:
		return s.applyEntityChange(ctx, change.Entity, mode, clock, conflicts)
	case change.Relationship != nil:
		if change.Kind == ChangeDelete {
			return s.Store.DeleteRelationship(ctx, change.Relationship.ID)
		}
		return s.Store.PutRelationship(ctx, change.Relationship)
	default:
		return errkind.New(errkind.InvalidArgument, "change carries neither entity nor relationship")
	}
}

func (s *Service) applyEntityChange(ctx context.Context, remote *types.Entity, mode ResolutionMode, clock storage.VectorClock, conflicts *[]ConflictRecord) error {
	local, err := s.Store.GetLatest(ctx, remote.ID)
	if err != nil {
		if kind, ok := errkind.KindOf(err); ok && kind == errkind.NotFound {
			return s.Store.PutEntity(ctx, remote) // no local history yet: linear accept
		}
		return err
	}

	if local.Version == remote.Version {
		return s.Store.PutEntity(ctx, remote) // idempotent replay (P4), store no-ops
	}

	// remote is not stored yet, so its own parents come from the change itself.
	parentsOf := func(ctx context.Context, id, version string) ([]string, error) {
		if version == remote.Version {
			return remote.ParentVersions, nil
		}
		return s.parentsOf(ctx, id, version)
	}
	rel, err := DetectConflict(ctx, remote.ID, local, remote, parentsOf)
	if err != nil {
		return err
	}

	switch rel {
	case RelationLinearAccept:
		return s.Store.PutEntity(ctx, remote)
	case RelationAlreadySubsumed:
		return nil // remote already known to be stale; ignore
	default: // RelationDiverge
		// Both sides are preserved in history regardless of resolution mode.
		if err := s.Store.PutEntity(ctx, remote); err != nil {
			return err
		}

		winnerVersion := GreaterVersion(local.Version, remote.Version)
		record := ConflictRecord{
			EntityID:       remote.ID,
			LocalVersion:   local.Version,
			RemoteVersion:  remote.Version,
			WinnerVersion:  winnerVersion,
			ResolutionMode: mode,
		}

		if mode == ResolutionMerge {
			newVersion := remote.Version
			if s.Versions != nil {
				newVersion = s.Versions.Next()
			}
			merged := BuildMergedEntity(local, remote, newVersion)
			record.WinnerVersion = merged.Version
			*conflicts = append(*conflicts, record)
			return s.Store.PutEntity(ctx, merged)
		}

		*conflicts = append(*conflicts, record)
		return nil // lww: the store's "greater version wins latest" already applied above
	}
}

func (s *Service) parentsOf(ctx context.Context, id, version string) ([]string, error) {
	e, err := s.Store.GetEntity(ctx, id, version)
	if err != nil {
		return nil, err
	}
	return e.ParentVersions, nil
}

func writerOf(version string) string {
	_, writer, ok := idgen.ParseVersion(version)
	if !ok {
		return ""
	}
	return writer
}
