package grammar

import "sync"

// Case is one rendered mutation of a template.
type Case struct {
	Index int    // position in the session's cycle
	Field string // name of the mutated field
	Data  []byte
}

// Session iterates a template's mutation cases: every mutation of the first
// fuzzable field, then the next field, and so on. After the last case it
// starts over from the first.
type Session struct {
	tmpl Template

	mu       sync.Mutex
	field    int
	mutation int
	index    int
	rounds   int
	cache    [][]byte
}

// NewSession starts a session at the template's first case.
func NewSession(t Template) *Session {
	return &Session{tmpl: t, field: -1}
}

// Template returns the template being fuzzed.
func (s *Session) Template() Template {
	return s.tmpl
}

// Rounds reports how many times the case list has been exhausted.
func (s *Session) Rounds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rounds
}

// Next returns the next case. A template without fuzzable fields yields its
// well-formed rendering every time.
func (s *Session) Next() Case {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tmpl.Cases() == 0 {
		c := Case{Index: s.index, Data: s.tmpl.Render()}
		s.index++
		return c
	}

	for s.cache == nil || s.mutation >= len(s.cache) {
		s.field++
		if s.field >= len(s.tmpl.Fields) {
			s.field = 0
			s.rounds++
		}
		s.cache = s.tmpl.Fields[s.field].Mutations()
		s.mutation = 0
	}

	c := Case{
		Index: s.index,
		Field: s.tmpl.Fields[s.field].Name(),
		Data:  s.tmpl.render(s.field, s.cache[s.mutation]),
	}
	s.mutation++
	s.index++
	return c
}
