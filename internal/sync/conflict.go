package sync

import (
	"context"

	"github.com/steveyegge/homegraph/internal/types"
)

// Relation classifies how an incoming remote version relates to the local
// latest version for the same entity id (§4.4).
type Relation int

const (
	RelationLinearAccept   Relation = iota // local is an ancestor of remote: accept remote
	RelationAlreadySubsumed                // remote is an ancestor of local: ignore remote
	RelationDiverge                        // neither is an ancestor of the other: conflict
)

// ParentsOf looks up the parent_versions of a specific (id, version), as
// recorded in the store (used to walk the ancestor chain transitively).
type ParentsOf func(ctx context.Context, id, version string) ([]string, error)

// IsAncestor reports whether ancestorVersion appears somewhere in the
// transitive parent chain of descendantVersion, both for entity id.
func IsAncestor(ctx context.Context, id, ancestorVersion, descendantVersion string, parentsOf ParentsOf) (bool, error) {
	if ancestorVersion == descendantVersion {
		return true, nil
	}
	visited := map[string]bool{descendantVersion: true}
	queue := []string{descendantVersion}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		parents, err := parentsOf(ctx, id, cur)
		if err != nil {
			return false, err
		}
		for _, p := range parents {
			if p == ancestorVersion {
				return true, nil
			}
			if !visited[p] {
				visited[p] = true
				queue = append(queue, p)
			}
		}
	}
	return false, nil
}

// DetectConflict classifies an incoming remote version against the local
// latest version for the same id (§4.4).
func DetectConflict(ctx context.Context, id string, local, remote *types.Entity, parentsOf ParentsOf) (Relation, error) {
	localIsAncestor, err := IsAncestor(ctx, id, local.Version, remote.Version, parentsOf)
	if err != nil {
		return RelationDiverge, err
	}
	if localIsAncestor {
		return RelationLinearAccept, nil
	}
	remoteIsAncestor, err := IsAncestor(ctx, id, remote.Version, local.Version, parentsOf)
	if err != nil {
		return RelationDiverge, err
	}
	if remoteIsAncestor {
		return RelationAlreadySubsumed, nil
	}
	return RelationDiverge, nil
}

// booleanAvailabilityFields get OR'd together during a field-aware merge (§4.4).
var booleanAvailabilityFields = map[string]bool{
	"is_reachable": true,
	"is_active":    true,
	"is_enabled":   true,
}

// GreaterVersion returns whichever of a, b is lexicographically greater
// (§4.4's LWW rule: "timestamp, then writer id").
func GreaterVersion(a, b string) string {
	if b > a {
		return b
	}
	return a
}

// BuildMergedEntity combines a diverging (local, remote) pair into a brand
// new version under ResolutionMerge, using the field-aware rules: longer
// name wins, boolean availability fields OR together, list-valued fields
// union, and deletion always wins over a concurrent update. Its
// ParentVersions names both sides, ordered lexicographically.
//
// Under ResolutionLWW no new version is created at all — the caller simply
// stores the remote version and lets the store's "greater version becomes
// latest" rule pick the winner among the two already-stored versions.
func BuildMergedEntity(local, remote *types.Entity, newVersion string) *types.Entity {
	winner, loser := local, remote
	if remote.Version > local.Version {
		winner, loser = remote, local
	}

	if local.IsTombstone() || remote.IsTombstone() {
		tomb := local
		if remote.IsTombstone() {
			tomb = remote
		}
		merged := tomb.Clone()
		merged.Version = newVersion
		merged.ParentVersions = orderedParents(local.Version, remote.Version)
		return merged
	}

	merged := winner.Clone()
	merged.Version = newVersion
	merged.ParentVersions = orderedParents(local.Version, remote.Version)

	if len(loser.Name) > len(merged.Name) {
		merged.Name = loser.Name
	}

	for key, loserVal := range loser.Content {
		winnerVal, hasWinner := merged.Content[key]
		switch {
		case !hasWinner:
			merged.Content[key] = loserVal
		case booleanAvailabilityFields[key]:
			wb, wok := winnerVal.Bool()
			lb, lok := loserVal.Bool()
			if wok && lok {
				merged.Content[key] = types.BoolValue(wb || lb)
			}
		default:
			if wList, wok := winnerVal.List(); wok {
				if lList, lok := loserVal.List(); lok {
					merged.Content[key] = types.ListValue(unionValues(wList, lList)...)
				}
			}
		}
	}
	return merged
}

func orderedParents(a, b string) []string {
	if b < a {
		return []string{b, a}
	}
	return []string{a, b}
}

func unionValues(a, b []types.Value) []types.Value {
	out := append([]types.Value(nil), a...)
	for _, v := range b {
		found := false
		for _, existing := range out {
			if existing.Equal(v) {
				found = true
				break
			}
		}
		if !found {
			out = append(out, v)
		}
	}
	return out
}
