// Package accesspolicy declares the required {role, action} pair for every
// operation in the system and enforces it at the boundary (§4.5).
package accesspolicy

import (
	"github.com/steveyegge/homegraph/internal/auth"
	"github.com/steveyegge/homegraph/internal/errkind"
)

// Action names one operation for policy purposes. They match the MCP tool
// names and the admin-only management operations (§4.3).
type Action string

const (
	ActionGetDevicesInRoom       Action = "get_devices_in_room"
	ActionFindDeviceControls     Action = "find_device_controls"
	ActionGetRoomConnections     Action = "get_room_connections"
	ActionSearchEntities         Action = "search_entities"
	ActionCreateEntity           Action = "create_entity"
	ActionCreateRelationship     Action = "create_relationship"
	ActionFindPath               Action = "find_path"
	ActionGetEntityDetails       Action = "get_entity_details"
	ActionFindSimilarEntities    Action = "find_similar_entities"
	ActionGetProceduresForDevice Action = "get_procedures_for_device"
	ActionGetAutomationsInRoom   Action = "get_automations_in_room"
	ActionUpdateEntity           Action = "update_entity"
	ActionGenerateGuestQR        Action = "generate_guest_qr"
	ActionAdminLogin             Action = "admin_login"
	ActionGuestCodePresent       Action = "guest_code_present"
)

// Requirement is the policy declaration attached to an Action: the minimum
// role allowed to invoke it, the permission string a guest role must carry
// (ignored for admin, which always satisfies every requirement), and
// whether the operation is subject to the rate limiter (§4.6).
type Requirement struct {
	MinRole         auth.Role
	GuestPermission string // empty means no guest role ever satisfies this
	RateLimited     bool
}

// policy is the fixed table of every declared operation (§4.5 "every
// operation declares a required {role, action} pair"). Read-only graph
// traversals require the "read" guest permission; mutations require admin.
var policy = map[Action]Requirement{
	ActionGetDevicesInRoom:       {MinRole: auth.RoleGuest, GuestPermission: "read"},
	ActionFindDeviceControls:     {MinRole: auth.RoleGuest, GuestPermission: "read"},
	ActionGetRoomConnections:     {MinRole: auth.RoleGuest, GuestPermission: "read"},
	ActionSearchEntities:         {MinRole: auth.RoleGuest, GuestPermission: "read"},
	ActionFindPath:               {MinRole: auth.RoleGuest, GuestPermission: "read"},
	ActionGetEntityDetails:       {MinRole: auth.RoleGuest, GuestPermission: "read"},
	ActionFindSimilarEntities:    {MinRole: auth.RoleGuest, GuestPermission: "read"},
	ActionGetProceduresForDevice: {MinRole: auth.RoleGuest, GuestPermission: "read"},
	ActionGetAutomationsInRoom:   {MinRole: auth.RoleGuest, GuestPermission: "read"},

	ActionCreateEntity:       {MinRole: auth.RoleAdmin},
	ActionCreateRelationship: {MinRole: auth.RoleAdmin},
	ActionUpdateEntity:       {MinRole: auth.RoleAdmin},
	ActionGenerateGuestQR:    {MinRole: auth.RoleAdmin},

	// Pre-authentication operations: no token exists yet, so they carry no
	// role requirement and are policed by the rate limiter alone (§4.6).
	ActionAdminLogin:       {RateLimited: true},
	ActionGuestCodePresent: {RateLimited: true},
}

// Lookup returns the Requirement declared for action. The second return
// value is false if the action is not in the fixed table, which callers
// should treat as a configuration bug rather than an access decision.
func Lookup(action Action) (Requirement, bool) {
	r, ok := policy[action]
	return r, ok
}

// Check enforces the declared requirement for action against claims.
// claims may be nil for pre-authentication operations (admin login, guest
// code presentation), which carry no token yet.
func Check(action Action, claims *auth.Claims) error {
	req, ok := Lookup(action)
	if !ok {
		return errkind.New(errkind.InvalidArgument, "no access policy declared for action "+string(action))
	}
	if req.MinRole == "" {
		return nil // pre-authentication operation, policed by the rate limiter only
	}
	if claims == nil {
		return errkind.New(errkind.PermissionDenied, "no session token presented")
	}
	if claims.Role == auth.RoleAdmin {
		return nil
	}
	if req.MinRole != auth.RoleGuest {
		return errkind.New(errkind.PermissionDenied, "action "+string(action)+" requires admin role")
	}
	if req.GuestPermission != "" && !claims.HasPermission(req.GuestPermission) {
		return errkind.New(errkind.PermissionDenied, "guest token lacks permission "+req.GuestPermission)
	}
	return nil
}

// RateLimited reports whether action is subject to the rate limiter (§4.6),
// regardless of whether it ultimately succeeds or fails the role check.
func RateLimited(action Action) bool {
	req, ok := Lookup(action)
	return ok && req.RateLimited
}
