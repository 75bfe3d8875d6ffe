package sync

import "github.com/steveyegge/homegraph/internal/storage"

// MergeVectorClocks merges two clocks by per-key maximum (§4.4), returning a
// new map; neither input is mutated.
func MergeVectorClocks(a, b storage.VectorClock) storage.VectorClock {
	out := make(storage.VectorClock, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		if cur, ok := out[k]; !ok || v > cur {
			out[k] = v
		}
	}
	return out
}

// AdvanceVectorClock bumps clock's entry for writer to version if version is
// greater than what's recorded (or the writer is absent), per "on every
// successful apply, bump the entry for the version's writer" (§4.4).
func AdvanceVectorClock(clock storage.VectorClock, writer, version string) {
	if cur, ok := clock[writer]; !ok || version > cur {
		clock[writer] = version
	}
}
