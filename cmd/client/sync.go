package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/homegraph/internal/errkind"
	"github.com/steveyegge/homegraph/internal/graphindex"
	"github.com/steveyegge/homegraph/internal/storage"
	syncpkg "github.com/steveyegge/homegraph/internal/sync"
)

// httpTransport adapts an Inbetweenies exchange to a single HTTP POST
// against the server's sync endpoint, carrying the session bearer token.
type httpTransport struct {
	baseURL string
	token   string
	path    string
}

func (t *httpTransport) Exchange(ctx context.Context, req *syncpkg.Request) (*syncpkg.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errkind.Wrap(errkind.InvalidArgument, err, "marshal sync request")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+t.path, bytes.NewReader(body))
	if err != nil {
		return nil, errkind.Wrap(errkind.StoreUnavailable, err, "build sync request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if t.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+t.token)
	}

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return nil, errkind.Wrap(errkind.StoreUnavailable, err, "sync exchange")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUpgradeRequired {
		return nil, errkind.New(errkind.ProtocolMismatch, "server rejected protocol version")
	}

	var out syncpkg.Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errkind.Wrap(errkind.StoreUnavailable, err, "decode sync response")
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusConflict {
		return &out, errkind.New(errkind.StoreUnavailable, "sync exchange failed with status %d", resp.StatusCode)
	}
	return &out, nil
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one Inbetweenies exchange against the configured server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		clockVal, err := loadVectorClock(dbPath)
		if err != nil {
			return fmt.Errorf("load vector clock: %w", err)
		}

		applier := &applyFunc{store: store, index: index}
		engine := syncpkg.NewEngine(deviceID, userID, store, applier, &httpTransport{baseURL: serverURL, token: token, path: "/sync/request"})

		// This CLI is invoked fresh per command, so there is no long-lived
		// process to have called Engine.Stage as local writes happened.
		// Instead, stage everything the store has produced since the last
		// synced clock, the same changes_since diff the server computes for
		// its own delta assembly (internal/sync/server.go assembleBatch).
		localChanges, err := changesSince(ctx, store, clockVal)
		if err != nil {
			return fmt.Errorf("compute local changes: %w", err)
		}
		for _, c := range localChanges {
			engine.Stage(c)
		}

		resp, err := engine.Sync(ctx, clockVal)
		if err != nil {
			return fmt.Errorf("sync: %w", err)
		}

		fmt.Println(accentStyle.Render(fmt.Sprintf("applied %d changes, %d conflicts", len(resp.Changes), len(resp.Conflicts))))
		for _, c := range resp.Conflicts {
			fmt.Println(mutedStyle.Render(fmt.Sprintf("  conflict on %s: %s vs %s -> winner %s (%s)",
				c.EntityID, c.LocalVersion, c.RemoteVersion, c.WinnerVersion, c.ResolutionMode)))
		}
		return saveVectorClock(dbPath, clockVal)
	},
}

// applyFunc implements sync.Applier by writing each incoming change into the
// local store and index, mirroring how the MCP service's own writes feed
// the index (internal/mcp/service.go CreateEntity/CreateRelationship).
type applyFunc struct {
	store storage.Store
	index *graphindex.Index
}

func (a *applyFunc) Apply(ctx context.Context, change syncpkg.Change) error {
	switch {
	case change.Entity != nil:
		if err := a.store.PutEntity(ctx, change.Entity); err != nil {
			return err
		}
		a.index.OnEntityWritten(change.Entity)
	case change.Relationship != nil:
		if change.Kind == syncpkg.ChangeDelete {
			if err := a.store.DeleteRelationship(ctx, change.Relationship.ID); err != nil {
				return err
			}
			a.index.OnRelationshipDeleted(change.Relationship.ID)
			return nil
		}
		if err := a.store.PutRelationship(ctx, change.Relationship); err != nil {
			return err
		}
		a.index.OnRelationshipWritten(change.Relationship)
	}
	return nil
}

// changesSince mirrors the server's own delta assembly, converting a local
// ChangeSet into the wire Change list the engine sends as its push.
func changesSince(ctx context.Context, store storage.Store, clockVal storage.VectorClock) ([]syncpkg.Change, error) {
	cs, err := store.ChangesSince(ctx, clockVal)
	if err != nil {
		return nil, err
	}
	var out []syncpkg.Change
	for _, e := range cs.Entities {
		out = append(out, syncpkg.Change{Kind: syncpkg.ChangeUpdate, Entity: e})
	}
	for _, r := range cs.Relationships {
		out = append(out, syncpkg.Change{Kind: syncpkg.ChangeCreate, Relationship: r})
	}
	return out, nil
}

// loadVectorClock and saveVectorClock persist the replica's merged vector
// clock in a sidecar file next to the local database: the sync_metadata
// table (§6) is part of the server's persisted state layout, but a local
// replica CLI invoked fresh each run needs its own small durable marker of
// "what have I already merged".
func clockSidecarPath(dbPath string) string {
	return dbPath + ".clock.json"
}

func loadVectorClock(dbPath string) (storage.VectorClock, error) {
	raw, err := os.ReadFile(clockSidecarPath(dbPath))
	if err != nil {
		if os.IsNotExist(err) {
			return storage.VectorClock{}, nil
		}
		return nil, errkind.Wrap(errkind.StoreUnavailable, err, "read vector clock sidecar")
	}
	var clock storage.VectorClock
	if err := json.Unmarshal(raw, &clock); err != nil {
		return nil, errkind.Wrap(errkind.InvalidArgument, err, "decode stored vector clock")
	}
	return clock, nil
}

func saveVectorClock(dbPath string, clock storage.VectorClock) error {
	raw, err := json.Marshal(clock)
	if err != nil {
		return errkind.Wrap(errkind.InvalidArgument, err, "encode vector clock")
	}
	return os.WriteFile(clockSidecarPath(dbPath), raw, 0o600)
}
