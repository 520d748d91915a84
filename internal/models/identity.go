package models

type Role string

const (
	RoleClient Role = "client"
	RoleAdmin  Role = "admin"
	RoleSystem Role = "system"
)

// Identity is the caller as vouched for by the identity provider.
type Identity struct {
	UserID    string `json:"user_id"`
	Role      Role   `json:"role"`
	SessionID string `json:"session_id,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// IsAdmin reports whether the identity may run administrative operations.
// The system identity used by scheduled jobs counts as administrative.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin || i.Role == RoleSystem
}

// CanAccess reports whether the identity may act on records owned by ownerID.
func (i Identity) CanAccess(ownerID string) bool {
	return i.IsAdmin() || (i.UserID != "" && i.UserID == ownerID)
}

// SystemIdentity is used by background jobs.
var SystemIdentity = Identity{UserID: "system", Role: RoleSystem}
