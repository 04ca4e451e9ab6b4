package deals

// Role is the actor's relationship to a specific deal.
type Role int

const (
	RoleNone Role = iota
	RolePrimary
	RoleSecondary
	roleCount
)

func (r Role) String() string {
	switch r {
	case RolePrimary:
		return "primary"
	case RoleSecondary:
		return "secondary"
	default:
		return "none"
	}
}

// Capability is an action gated by the permission table.
type Capability int

const (
	CapEditDeal Capability = iota
	CapUpdatePayments
	CapUploadDocuments
	CapProgressStage
	CapCloseDeal
	CapViewAll
	CapDownloadDocuments
	CapAddNotes
	CapSendMessages
	capabilityCount
)

var capabilityNames = [capabilityCount]string{
	CapEditDeal:          "edit deal fields",
	CapUpdatePayments:    "update payments",
	CapUploadDocuments:   "upload documents",
	CapProgressStage:     "progress stage",
	CapCloseDeal:         "close/cancel deal",
	CapViewAll:           "view all data",
	CapDownloadDocuments: "download documents",
	CapAddNotes:          "add notes",
	CapSendMessages:      "send messages",
}

var capabilityExplanations = [capabilityCount]string{
	CapEditDeal:          "only the primary agent can edit deal details",
	CapUpdatePayments:    "only the primary agent can record payments or change the payment plan",
	CapUploadDocuments:   "only the primary agent can upload documents",
	CapProgressStage:     "only the primary agent can move the deal to the next stage",
	CapCloseDeal:         "only the primary agent can complete or cancel the deal",
	CapViewAll:           "only agents on this deal can view it",
	CapDownloadDocuments: "only agents on this deal can download its documents",
	CapAddNotes:          "only agents on this deal can add notes",
	CapSendMessages:      "only agents on this deal can send messages",
}

// permissionTable is total over (role, capability); zero value means denied.
var permissionTable = [roleCount][capabilityCount]bool{
	RoleNone: {},
	RolePrimary: {
		CapEditDeal:          true,
		CapUpdatePayments:    true,
		CapUploadDocuments:   true,
		CapProgressStage:     true,
		CapCloseDeal:         true,
		CapViewAll:           true,
		CapDownloadDocuments: true,
		CapAddNotes:          true,
		CapSendMessages:      true,
	},
	RoleSecondary: {
		CapViewAll:           true,
		CapDownloadDocuments: true,
		CapAddNotes:          true,
		CapSendMessages:      true,
	},
}

// Capabilities lists every capability in table order.
func Capabilities() []Capability {
	out := make([]Capability, 0, capabilityCount)
	for c := Capability(0); c < capabilityCount; c++ {
		out = append(out, c)
	}
	return out
}

// Roles lists every role.
func Roles() []Role {
	return []Role{RoleNone, RolePrimary, RoleSecondary}
}

func (c Capability) String() string {
	if c < 0 || c >= capabilityCount {
		return "unknown"
	}
	return capabilityNames[c]
}

// Mutating reports whether the capability changes the deal. The terminal
// overlay denies all mutating capabilities.
func (c Capability) Mutating() bool {
	switch c {
	case CapViewAll, CapDownloadDocuments:
		return false
	default:
		return true
	}
}

// Allowed looks up the static table for a role.
func (r Role) Allowed(c Capability) bool {
	if r < 0 || r >= roleCount || c < 0 || c >= capabilityCount {
		return false
	}
	return permissionTable[r][c]
}

// RoleOf derives the actor's role on the deal.
func RoleOf(actorID int64, d *Deal) Role {
	if d == nil || actorID == 0 {
		return RoleNone
	}
	if d.Agents.Primary.ID == actorID {
		return RolePrimary
	}
	if d.Agents.HasSecondary() && d.Agents.Secondary.ID == actorID {
		return RoleSecondary
	}
	return RoleNone
}

// CheckPermission reports whether the actor may use the capability on the deal,
// including the terminal-state overlay.
func CheckPermission(actorID int64, d *Deal, c Capability) bool {
	return ValidatePermission(actorID, d, c) == nil
}

// ValidatePermission returns a *PermissionDeniedError when the capability is refused.
func ValidatePermission(actorID int64, d *Deal, c Capability) error {
	role := RoleOf(actorID, d)
	if !role.Allowed(c) {
		explanation := "unknown capability"
		if c >= 0 && c < capabilityCount {
			explanation = capabilityExplanations[c]
		}
		return &PermissionDeniedError{Capability: c, Role: role, Explanation: explanation}
	}
	if c.Mutating() && d.Lifecycle.Status.IsTerminal() {
		return &PermissionDeniedError{
			Capability:  c,
			Role:        role,
			Explanation: "deal is " + lowerStatus(d.Lifecycle.Status) + " and can no longer be changed",
			Terminal:    true,
		}
	}
	return nil
}

// PermissionSet is the capability set derived for one actor on one deal.
type PermissionSet struct {
	Role    Role
	allowed [capabilityCount]bool
}

// Permissions derives the full capability set, overlay included.
func Permissions(actorID int64, d *Deal) PermissionSet {
	set := PermissionSet{Role: RoleOf(actorID, d)}
	for c := Capability(0); c < capabilityCount; c++ {
		set.allowed[c] = CheckPermission(actorID, d, c)
	}
	return set
}

// Has reports whether c is in the set.
func (p PermissionSet) Has(c Capability) bool {
	if c < 0 || c >= capabilityCount {
		return false
	}
	return p.allowed[c]
}

// Names maps capability names to their granted state for display.
func (p PermissionSet) Names() map[string]bool {
	out := make(map[string]bool, capabilityCount)
	for c := Capability(0); c < capabilityCount; c++ {
		out[c.String()] = p.allowed[c]
	}
	return out
}

func lowerStatus(s Status) string {
	switch s {
	case StatusCancelled:
		return "cancelled"
	case StatusCompleted:
		return "completed"
	case StatusOnHold:
		return "on hold"
	default:
		return "active"
	}
}
