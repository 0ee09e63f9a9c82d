// Package scope defines the setting scope hierarchy: system-wide
// defaults, per-location overrides and per-user overrides.
package scope

// Scope identifies one level of the inheritance chain.
type Scope string

const (
	// System is the tenant-wide default level.
	System Scope = "system"
	// Location is the site-specific override level.
	Location Scope = "location"
	// User is the individual override level.
	User Scope = "user"
	// Default marks a value that came from the compiled-in registry
	// rather than a stored row. Never persisted.
	Default Scope = "default"
)

// Valid reports whether s names a persistable scope level.
func (s Scope) Valid() bool {
	return s == System || s == Location || s == User
}

// Ref identifies the requester's position in the hierarchy. Empty
// fields skip the corresponding level during resolution.
type Ref struct {
	LocationID string
	UserID     string
}

// InstanceID returns the scope instance column value for a level.
// System settings share the single empty instance.
func (r Ref) InstanceID(s Scope) string {
	switch s {
	case Location:
		return r.LocationID
	case User:
		return r.UserID
	default:
		return ""
	}
}

// Chain returns the resolution walk order for this requester, most
// specific level first. Levels without an instance id are skipped.
func (r Ref) Chain() []Scope {
	chain := make([]Scope, 0, 3)
	if r.UserID != "" {
		chain = append(chain, User)
	}
	if r.LocationID != "" {
		chain = append(chain, Location)
	}

	return append(chain, System)
}
