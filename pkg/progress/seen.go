package progress

// SeenSet tracks which comment ids have already been emitted for a
// target during the current run. It is deliberately not persisted:
// resuming re-fetches the partially collected page in full and relies
// on this set only within a run, so duplicates across runs are bounded
// by one page overlap.
type SeenSet struct {
	ids map[int64]struct{}
}

// NewSeenSet creates an empty set.
func NewSeenSet() *SeenSet {
	return &SeenSet{ids: make(map[int64]struct{})}
}

// Seen records the id and reports whether it was already present.
func (s *SeenSet) Seen(rpid int64) bool {
	if _, ok := s.ids[rpid]; ok {
		return true
	}
	s.ids[rpid] = struct{}{}
	return false
}

// Contains reports membership without recording.
func (s *SeenSet) Contains(rpid int64) bool {
	_, ok := s.ids[rpid]
	return ok
}

// Len returns the number of distinct ids recorded.
func (s *SeenSet) Len() int {
	return len(s.ids)
}
