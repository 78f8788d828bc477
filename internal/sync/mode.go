// Package sync keeps the in-memory catalog consistent with the local store
// and, when signed in, the remote per-user store.
package sync

import "fmt"

// ModeKind enumerates connectivity modes.
type ModeKind int

const (
	ModeLocal ModeKind = iota
	ModeCloud
)

// Mode is the connectivity state: Local, or Cloud bound to one identity.
type Mode struct {
	kind     ModeKind
	identity string
}

// LocalMode returns the signed-out mode.
func LocalMode() Mode {
	return Mode{kind: ModeLocal}
}

// CloudMode returns the signed-in mode for identity.
func CloudMode(identity string) Mode {
	return Mode{kind: ModeCloud, identity: identity}
}

// Kind returns the mode kind.
func (m Mode) Kind() ModeKind { return m.kind }

// IsCloud reports whether the remote store is authoritative and a write target.
func (m Mode) IsCloud() bool { return m.kind == ModeCloud }

// Identity returns the signed-in identity, or "" in local mode.
func (m Mode) Identity() string { return m.identity }

func (m Mode) String() string {
	if m.IsCloud() {
		return fmt.Sprintf("cloud(%s)", m.identity)
	}
	return "local"
}
