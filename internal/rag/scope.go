package rag

// Mode selects the answer style of the prompt.
type Mode int

const (
	// ModeSingle answers from the whole collection or from one document.
	ModeSingle Mode = iota
	// ModeCompare contrasts two or more documents.
	ModeCompare
)

func (m Mode) String() string {
	if m == ModeCompare {
		return "compare"
	}
	return "single"
}

// Scope is decided once when a query enters the pipeline and carried through
// retrieval and prompt construction.
type Scope struct {
	Mode Mode
	// Sources restricts retrieval; empty means every source.
	Sources []string
}

// NewScope builds the scope for the requested target sources. Blank and
// repeated entries are dropped; two or more distinct sources select ModeCompare.
func NewScope(targets []string) Scope {
	seen := make(map[string]struct{}, len(targets))
	sources := make([]string, 0, len(targets))
	for _, t := range targets {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		sources = append(sources, t)
	}
	if len(sources) > 1 {
		return Scope{Mode: ModeCompare, Sources: sources}
	}
	return Scope{Mode: ModeSingle, Sources: sources}
}
