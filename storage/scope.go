package storage

import (
	"fmt"
	"strings"
)

// Scope is an ordered set of scope tokens (RFC 6749 §3.3).
type Scope []string

// ParseScope splits a space-delimited scope string. Duplicates are dropped, order is kept.
// Each token must consist of NQCHAR (%x21 / %x23-5B / %x5D-7E).
func ParseScope(s string) (Scope, error) {
	fields := strings.Split(s, " ")
	scope := make(Scope, 0, len(fields))
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if f == "" {
			continue
		}
		if !validScopeToken(f) {
			return nil, fmt.Errorf("invalid scope token %q", f)
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		scope = append(scope, f)
	}
	if len(scope) == 0 {
		return nil, nil
	}
	return scope, nil
}

func validScopeToken(tok string) bool {
	for i := 0; i < len(tok); i++ {
		c := tok[i]
		if c < 0x21 || c > 0x7e || c == '"' || c == '\\' {
			return false
		}
	}
	return true
}

// String joins the scope with single spaces.
func (s Scope) String() string {
	return strings.Join(s, " ")
}

// Has reports whether s contains tok.
func (s Scope) Has(tok string) bool {
	for _, t := range s {
		if t == tok {
			return true
		}
	}
	return false
}

// Contains reports whether every token of other is in s.
func (s Scope) Contains(other Scope) bool {
	for _, t := range other {
		if !s.Has(t) {
			return false
		}
	}
	return true
}

// Clone returns a copy of s.
func (s Scope) Clone() Scope {
	if s == nil {
		return nil
	}
	return append(Scope(nil), s...)
}
