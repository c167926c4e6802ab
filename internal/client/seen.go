package client

// seenSet remembers the most recent message ids. When full, the oldest id
// is forgotten first.
type seenSet struct {
	ids   map[string]struct{}
	order []string
	limit int
}

func newSeenSet(limit int) *seenSet {
	if limit <= 0 {
		limit = DefaultSeenLimit
	}
	return &seenSet{
		ids:   make(map[string]struct{}, limit),
		order: make([]string, 0, limit),
		limit: limit,
	}
}

// add records id and reports whether it was new.
func (s *seenSet) add(id string) bool {
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	s.order = append(s.order, id)
	if len(s.order) > s.limit {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.ids, oldest)
	}
	return true
}

func (s *seenSet) has(id string) bool {
	_, ok := s.ids[id]
	return ok
}

func (s *seenSet) len() int {
	return len(s.order)
}
