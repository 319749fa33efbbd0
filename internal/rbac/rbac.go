package rbac

type Role string
type Action string

const (
	RoleAdmin        Role = "admin"
	RoleInternalTeam Role = "internal_team"
	RoleExecutive    Role = "executive"
	RoleClient       Role = "client"
	RoleBank         Role = "bank"
)

const (
	ActionUpload         Action = "upload"
	ActionCreateDraft    Action = "create_draft"
	ActionReview         Action = "review"
	ActionBrowseAll      Action = "browse_all"
	ActionBrowseApproved Action = "browse_approved"
	ActionExport         Action = "export"
	ActionManageRoles    Action = "manage_roles"
	ActionOverrideStatus Action = "override_status"
)

func roleCan(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleExecutive:
		return action == ActionReview || action == ActionBrowseAll || action == ActionBrowseApproved || action == ActionExport
	case RoleInternalTeam:
		return action == ActionUpload || action == ActionCreateDraft || action == ActionBrowseAll || action == ActionBrowseApproved || action == ActionExport
	case RoleClient:
		return action == ActionUpload
	case RoleBank:
		return action == ActionBrowseApproved || action == ActionExport
	default:
		return false
	}
}

// Can reports whether any of the roles grants action.
func Can(roles []Role, action Action) bool {
	for _, role := range roles {
		if roleCan(role, action) {
			return true
		}
	}
	return false
}

func Normalize(role string) (Role, bool) {
	switch Role(role) {
	case RoleAdmin, RoleInternalTeam, RoleExecutive, RoleClient, RoleBank:
		return Role(role), true
	default:
		return "", false
	}
}

// ParseRoles keeps the known roles of raw in order, without duplicates.
func ParseRoles(raw []string) []Role {
	roles := make([]Role, 0, len(raw))
	seen := make(map[Role]bool, len(raw))
	for _, value := range raw {
		role, ok := Normalize(value)
		if !ok || seen[role] {
			continue
		}
		seen[role] = true
		roles = append(roles, role)
	}
	return roles
}

func Strings(roles []Role) []string {
	out := make([]string, len(roles))
	for i, role := range roles {
		out[i] = string(role)
	}
	return out
}

// Principal is the signed-in identity resolved once per request.
type Principal struct {
	ID       string
	Email    string
	FullName string
	Roles    []Role
}

func (p Principal) HasRole(role Role) bool {
	for _, held := range p.Roles {
		if held == role {
			return true
		}
	}
	return false
}

func (p Principal) Can(action Action) bool {
	return Can(p.Roles, action)
}

func (p Principal) DisplayName() string {
	if p.FullName != "" {
		return p.FullName
	}
	return p.Email
}
