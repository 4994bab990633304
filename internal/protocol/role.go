package protocol

// Role is the coordination phase of a peer. Only Active may originate
// state_update broadcasts.
type Role string

const (
	RoleDisconnected  Role = "disconnected"
	RoleConnectedIdle Role = "connected_idle"
	RoleActive        Role = "active"
	RolePassive       Role = "passive"
)

func (r Role) String() string {
	return string(r)
}

// Valid reports whether r is one of the declared roles.
func (r Role) Valid() bool {
	switch r {
	case RoleDisconnected, RoleConnectedIdle, RoleActive, RolePassive:
		return true
	}
	return false
}
