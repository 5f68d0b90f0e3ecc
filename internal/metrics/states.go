package metrics

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/steveyegge/pulse/internal/youtrack"
)

// DefaultResolvedStates is used when the State bundle cannot tell which
// values are resolved.
var DefaultResolvedStates = []string{"Done", "Resolved", "Verified", "Closed", "Obsolete", "Duplicate"}

// Source records where a resolved-state set came from.
type Source string

const (
	SourceBundle   Source = "bundle"
	SourceFallback Source = "fallback"
)

// StateSet is a case-insensitive set of state names.
type StateSet struct {
	names  map[string]string
	Source Source
}

// NewStateSet builds a set from names. Blank names are ignored.
func NewStateSet(source Source, names ...string) StateSet {
	s := StateSet{names: make(map[string]string, len(names)), Source: source}
	for _, n := range names {
		if k := stateKey(n); k != "" {
			s.names[k] = strings.TrimSpace(n)
		}
	}
	return s
}

func stateKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Contains reports membership, ignoring case and surrounding whitespace.
func (s StateSet) Contains(name string) bool {
	_, ok := s.names[stateKey(name)]
	return ok
}

// ContainsAny reports whether any of names is in the set.
func (s StateSet) ContainsAny(names []string) bool {
	for _, n := range names {
		if s.Contains(n) {
			return true
		}
	}
	return false
}

// Len returns the number of names.
func (s StateSet) Len() int {
	return len(s.names)
}

// Names returns the names sorted.
func (s StateSet) Names() []string {
	out := make([]string, 0, len(s.names))
	for _, n := range s.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// ResolvedStateSet derives the resolved-state names from the State bundle.
// A bundle that is missing, empty, or carries no isResolved flags yields
// DefaultResolvedStates with SourceFallback, logged at warn level.
func ResolvedStateSet(values []youtrack.BundleValue, found bool, log *slog.Logger) StateSet {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	var resolved []string
	flagged := false
	for _, v := range values {
		if v.IsResolved == nil {
			continue
		}
		flagged = true
		if *v.IsResolved {
			resolved = append(resolved, v.Name)
		}
	}

	set := NewStateSet(SourceBundle, resolved...)
	if found && flagged && set.Len() > 0 {
		return set
	}

	reason := "state bundle unavailable"
	switch {
	case found && len(values) == 0:
		reason = "state bundle empty"
	case found && !flagged:
		reason = "state bundle has no isResolved flags"
	case found:
		reason = "state bundle has no resolved values"
	}
	log.Warn("using default resolved states, metrics have degraded accuracy",
		"reason", reason, "states", DefaultResolvedStates)
	return NewStateSet(SourceFallback, DefaultResolvedStates...)
}
