package delivery

import "github.com/docket-desk/internal/application/transition"

// Selection is the set of item ids an operator picked for a bulk action. It
// lives only for the duration of a request and is never persisted.
type Selection struct {
	ids []int64
}

// NewSelection builds a selection, silently dropping repeated ids.
func NewSelection(ids ...int64) *Selection {
	return &Selection{ids: transition.Dedup(ids)}
}

// IDs returns a copy of the selected ids in pick order.
func (s *Selection) IDs() []int64 {
	if s == nil {
		return nil
	}
	out := make([]int64, len(s.ids))
	copy(out, s.ids)
	return out
}

func (s *Selection) Len() int {
	if s == nil {
		return 0
	}
	return len(s.ids)
}

func (s *Selection) Empty() bool { return s.Len() == 0 }

// Clear drops every id. The controller calls it after a successful bulk action.
func (s *Selection) Clear() {
	if s != nil {
		s.ids = nil
	}
}
