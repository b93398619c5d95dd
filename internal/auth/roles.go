package auth

type Role string

const (
	RoleObserver Role = "observer"
	RoleOperator Role = "operator"
)

type Permission string

const (
	PermView  Permission = "view"
	PermPilot Permission = "pilot"
)

func (r Role) Valid() bool {
	return r == RoleObserver || r == RoleOperator
}

// Permissions granted to a role. Observers may watch, only operators drive.
func (r Role) Permissions() []Permission {
	switch r {
	case RoleOperator:
		return []Permission{PermView, PermPilot}
	case RoleObserver:
		return []Permission{PermView}
	default:
		return nil
	}
}

func (r Role) Has(p Permission) bool {
	for _, granted := range r.Permissions() {
		if granted == p {
			return true
		}
	}
	return false
}
