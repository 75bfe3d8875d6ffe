package mcp

import (
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/steveyegge/homegraph/internal/accesspolicy"
	"github.com/steveyegge/homegraph/internal/auth"
	"github.com/steveyegge/homegraph/internal/errkind"
	"github.com/steveyegge/homegraph/internal/types"
)

// Envelope is the uniform {ok, value|error} shape every tool returns (§4.3).
type Envelope struct {
	OK    bool   `json:"ok"`
	Value any    `json:"value,omitempty"`
	Error *ToolError `json:"error,omitempty"`
}

// ToolError carries a stable error kind back to the caller.
type ToolError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func ok(value any) Envelope {
	return Envelope{OK: true, Value: value}
}

func fail(err error) Envelope {
	kind, _ := errkind.KindOf(err)
	return Envelope{OK: false, Error: &ToolError{Kind: string(kind), Message: err.Error()}}
}

// Caller identifies who is invoking a tool, threaded through from the
// session's verified claims so the access policy and audit logger can
// attribute the call (nil claims means a pre-authentication caller).
type Caller struct {
	Claims   *auth.Claims
	ClientIP string
}

// Server registers all twelve tools against an MCP SDK server, enforcing
// the access policy and uniform envelope around each call.
type Server struct {
	svc      *Service
	enforcer *accesspolicy.Enforcer
}

// NewServer builds the dispatch layer. The caller is not known at
// registration time; each tool call resolves it through the toolCaller func
// passed to Register.
func NewServer(svc *Service, enforcer *accesspolicy.Enforcer) *Server {
	return &Server{svc: svc, enforcer: enforcer}
}

// authorize enforces action for caller and returns a non-nil error if
// denied. A Caller with nil Claims is treated as an unauthenticated request.
func (s *Server) authorize(action accesspolicy.Action, caller Caller) error {
	return s.enforcer.Authorize(action, caller.Claims, caller.ClientIP)
}

type roomArgs struct {
	RoomID string `json:"room_id" jsonschema:"the room entity id"`
}

type deviceArgs struct {
	DeviceID string `json:"device_id" jsonschema:"the device entity id"`
}

type searchArgs struct {
	Query       string            `json:"query" jsonschema:"free-text search query"`
	EntityTypes []types.EntityType `json:"entity_types,omitempty" jsonschema:"optional entity type filter"`
}

type createEntityArgs struct {
	EntityType types.EntityType `json:"entity_type"`
	Name       string           `json:"name"`
	Content    types.ValueMap   `json:"content"`
	UserID     string           `json:"user_id"`
}

type createRelationshipArgs struct {
	From       string                 `json:"from"`
	To         string                 `json:"to"`
	Type       types.RelationshipType `json:"type"`
	Properties types.ValueMap         `json:"properties,omitempty"`
}

type findPathArgs struct {
	FromID string `json:"from_id"`
	ToID   string `json:"to_id"`
}

type entityIDArgs struct {
	ID string `json:"id"`
}

type findSimilarArgs struct {
	ID    string `json:"id"`
	TopK  int    `json:"top_k"`
}

type updateEntityArgs struct {
	ID      string         `json:"id"`
	Changes types.ValueMap `json:"changes"`
	UserID  string         `json:"user_id"`
}

// Register wires every tool onto server under toolCaller, a function the
// transport supplies to resolve the authenticated Caller for a given
// request context (e.g. reading a bearer token out of request metadata).
func (s *Server) Register(server *mcpsdk.Server, toolCaller func(ctx context.Context) Caller) {
	mcpsdk.AddTool(server, &mcpsdk.Tool{Name: "get_devices_in_room", Description: "List device entities located in a room"},
		func(ctx context.Context, _ *mcpsdk.CallToolRequest, args roomArgs) (*mcpsdk.CallToolResult, Envelope, error) {
			caller := toolCaller(ctx)
			if err := s.authorize(accesspolicy.ActionGetDevicesInRoom, caller); err != nil {
				return nil, fail(err), nil
			}
			devices, err := s.svc.GetDevicesInRoom(ctx, args.RoomID)
			if err != nil {
				return nil, fail(err), nil
			}
			return nil, ok(devices), nil
		})

	mcpsdk.AddTool(server, &mcpsdk.Tool{Name: "find_device_controls", Description: "List capability descriptors for a device"},
		func(ctx context.Context, _ *mcpsdk.CallToolRequest, args deviceArgs) (*mcpsdk.CallToolResult, Envelope, error) {
			caller := toolCaller(ctx)
			if err := s.authorize(accesspolicy.ActionFindDeviceControls, caller); err != nil {
				return nil, fail(err), nil
			}
			caps, err := s.svc.FindDeviceControls(ctx, args.DeviceID)
			if err != nil {
				return nil, fail(err), nil
			}
			return nil, ok(caps), nil
		})

	mcpsdk.AddTool(server, &mcpsdk.Tool{Name: "get_room_connections", Description: "List rooms reachable via connects_to or a door"},
		func(ctx context.Context, _ *mcpsdk.CallToolRequest, args roomArgs) (*mcpsdk.CallToolResult, Envelope, error) {
			caller := toolCaller(ctx)
			if err := s.authorize(accesspolicy.ActionGetRoomConnections, caller); err != nil {
				return nil, fail(err), nil
			}
			rooms, err := s.svc.GetRoomConnections(ctx, args.RoomID)
			if err != nil {
				return nil, fail(err), nil
			}
			return nil, ok(rooms), nil
		})

	mcpsdk.AddTool(server, &mcpsdk.Tool{Name: "search_entities", Description: "Ranked full-text search over entities"},
		func(ctx context.Context, _ *mcpsdk.CallToolRequest, args searchArgs) (*mcpsdk.CallToolResult, Envelope, error) {
			caller := toolCaller(ctx)
			if err := s.authorize(accesspolicy.ActionSearchEntities, caller); err != nil {
				return nil, fail(err), nil
			}
			results, err := s.svc.SearchEntities(ctx, args.Query, args.EntityTypes, 20)
			if err != nil {
				return nil, fail(err), nil
			}
			return nil, ok(results), nil
		})

	mcpsdk.AddTool(server, &mcpsdk.Tool{Name: "create_entity", Description: "Create a new entity and its initial version"},
		func(ctx context.Context, _ *mcpsdk.CallToolRequest, args createEntityArgs) (*mcpsdk.CallToolResult, Envelope, error) {
			caller := toolCaller(ctx)
			if err := s.authorize(accesspolicy.ActionCreateEntity, caller); err != nil {
				return nil, fail(err), nil
			}
			entity, err := s.svc.CreateEntity(ctx, args.EntityType, args.Name, args.Content, args.UserID)
			if err != nil {
				return nil, fail(err), nil
			}
			return nil, ok(entity), nil
		})

	mcpsdk.AddTool(server, &mcpsdk.Tool{Name: "create_relationship", Description: "Create a new relationship between two entities"},
		func(ctx context.Context, _ *mcpsdk.CallToolRequest, args createRelationshipArgs) (*mcpsdk.CallToolResult, Envelope, error) {
			caller := toolCaller(ctx)
			if err := s.authorize(accesspolicy.ActionCreateRelationship, caller); err != nil {
				return nil, fail(err), nil
			}
			rel, err := s.svc.CreateRelationship(ctx, args.From, args.To, args.Type, args.Properties)
			if err != nil {
				return nil, fail(err), nil
			}
			return nil, ok(rel), nil
		})

	mcpsdk.AddTool(server, &mcpsdk.Tool{Name: "find_path", Description: "Find an ordered path between two entities"},
		func(ctx context.Context, _ *mcpsdk.CallToolRequest, args findPathArgs) (*mcpsdk.CallToolResult, Envelope, error) {
			caller := toolCaller(ctx)
			if err := s.authorize(accesspolicy.ActionFindPath, caller); err != nil {
				return nil, fail(err), nil
			}
			path := s.svc.FindPath(args.FromID, args.ToID)
			return nil, ok(path), nil
		})

	mcpsdk.AddTool(server, &mcpsdk.Tool{Name: "get_entity_details", Description: "Get an entity plus its incoming/outgoing relationships"},
		func(ctx context.Context, _ *mcpsdk.CallToolRequest, args entityIDArgs) (*mcpsdk.CallToolResult, Envelope, error) {
			caller := toolCaller(ctx)
			if err := s.authorize(accesspolicy.ActionGetEntityDetails, caller); err != nil {
				return nil, fail(err), nil
			}
			details, err := s.svc.GetEntityDetails(ctx, args.ID)
			if err != nil {
				return nil, fail(err), nil
			}
			return nil, ok(details), nil
		})

	mcpsdk.AddTool(server, &mcpsdk.Tool{Name: "find_similar_entities", Description: "Rank entities by similarity to a given entity"},
		func(ctx context.Context, _ *mcpsdk.CallToolRequest, args findSimilarArgs) (*mcpsdk.CallToolResult, Envelope, error) {
			caller := toolCaller(ctx)
			if err := s.authorize(accesspolicy.ActionFindSimilarEntities, caller); err != nil {
				return nil, fail(err), nil
			}
			results, err := s.svc.FindSimilarEntities(args.ID, args.TopK)
			if err != nil {
				return nil, fail(err), nil
			}
			return nil, ok(results), nil
		})

	mcpsdk.AddTool(server, &mcpsdk.Tool{Name: "get_procedures_for_device", Description: "List procedures linked to a device"},
		func(ctx context.Context, _ *mcpsdk.CallToolRequest, args deviceArgs) (*mcpsdk.CallToolResult, Envelope, error) {
			caller := toolCaller(ctx)
			if err := s.authorize(accesspolicy.ActionGetProceduresForDevice, caller); err != nil {
				return nil, fail(err), nil
			}
			procedures, err := s.svc.GetProceduresForDevice(ctx, args.DeviceID)
			if err != nil {
				return nil, fail(err), nil
			}
			return nil, ok(procedures), nil
		})

	mcpsdk.AddTool(server, &mcpsdk.Tool{Name: "get_automations_in_room", Description: "List automations linked to a room"},
		func(ctx context.Context, _ *mcpsdk.CallToolRequest, args roomArgs) (*mcpsdk.CallToolResult, Envelope, error) {
			caller := toolCaller(ctx)
			if err := s.authorize(accesspolicy.ActionGetAutomationsInRoom, caller); err != nil {
				return nil, fail(err), nil
			}
			automations, err := s.svc.GetAutomationsInRoom(ctx, args.RoomID)
			if err != nil {
				return nil, fail(err), nil
			}
			return nil, ok(automations), nil
		})

	mcpsdk.AddTool(server, &mcpsdk.Tool{Name: "update_entity", Description: "Create a new version of an entity from a set of field changes"},
		func(ctx context.Context, _ *mcpsdk.CallToolRequest, args updateEntityArgs) (*mcpsdk.CallToolResult, Envelope, error) {
			caller := toolCaller(ctx)
			if err := s.authorize(accesspolicy.ActionUpdateEntity, caller); err != nil {
				return nil, fail(err), nil
			}
			entity, err := s.svc.UpdateEntity(ctx, args.ID, args.Changes, args.UserID)
			if err != nil {
				return nil, fail(err), nil
			}
			return nil, ok(entity), nil
		})
}
