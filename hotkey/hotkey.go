package hotkey

import (
	"fmt"
	"strings"
)

type Hotkey interface {
	Register() error
	Unregister()
	Keydown() <-chan struct{}
	Keyup() <-chan struct{}
}

// Binding is a push-to-talk chord: optional Ctrl/Shift plus one key.
type Binding struct {
	Ctrl  bool
	Shift bool
	Key   string // "space" or "f1".."f12"
}

var Default = Binding{Ctrl: true, Shift: true, Key: "space"}

var keyNames = []string{"space", "f1", "f2", "f3", "f4", "f5", "f6", "f7", "f8", "f9", "f10", "f11", "f12"}

// ParseBinding reads forms like "ctrl+shift+space" or "F9".
func ParseBinding(s string) (Binding, error) {
	var b Binding
	parts := strings.Split(strings.ToLower(strings.ReplaceAll(s, " ", "")), "+")
	for i, p := range parts {
		last := i == len(parts)-1
		switch {
		case p == "ctrl" && !last:
			b.Ctrl = true
		case p == "shift" && !last:
			b.Shift = true
		case last && validKey(p):
			b.Key = p
		default:
			return Binding{}, fmt.Errorf("invalid hotkey %q: unknown part %q", s, p)
		}
	}
	return b, nil
}

func validKey(k string) bool {
	for _, n := range keyNames {
		if n == k {
			return true
		}
	}
	return false
}

func (b Binding) String() string {
	var parts []string
	if b.Ctrl {
		parts = append(parts, "Ctrl")
	}
	if b.Shift {
		parts = append(parts, "Shift")
	}
	key := strings.ToUpper(b.Key)
	if b.Key == "space" {
		key = "Space"
	}
	return strings.Join(append(parts, key), "+")
}
