package auth

type Role string

const (
	RoleAdmin    Role = "admin"    // Full access, including recalculations
	RoleManager  Role = "manager"  // Floor manager
	RoleEmployee Role = "employee" // Read-only floor staff
)

// CanOperate reports whether the role may use the engine's control surface.
func (r Role) CanOperate() bool {
	return r == RoleAdmin || r == RoleManager
}

// Token types carried in the "type" claim.
const (
	TokenTypeAccess = "access"
	TokenTypeSSE    = "sse"
)
