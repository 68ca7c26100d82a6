package rbac

import "strings"

// Level is a rung on the fixed privilege ladder: read < write < admin.
type Level int

const (
	LevelRead  Level = 0
	LevelWrite Level = 1
	LevelAdmin Level = 2
)

var levelNames = map[Level]string{
	LevelRead:  "read",
	LevelWrite: "write",
	LevelAdmin: "admin",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "unknown"
}

// Meets reports whether the level satisfies the required one.
func (l Level) Meets(required Level) bool {
	return l >= required
}

// ParseLevel maps a role string to its level. Anything outside the three
// recognized values reports false, which callers must treat as no access.
func ParseLevel(role string) (Level, bool) {
	switch strings.TrimSpace(strings.ToLower(role)) {
	case "read":
		return LevelRead, true
	case "write":
		return LevelWrite, true
	case "admin":
		return LevelAdmin, true
	default:
		return Level(-1), false
	}
}
