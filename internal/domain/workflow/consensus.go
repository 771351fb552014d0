package workflow

import (
	"slices"

	"github.com/yang123apple/EHS-system-sub002/internal/domain/entity"
)

// Tracker holds the candidate handlers of the current step and decides, per action,
// whether the step is satisfied. It works on a private copy of the candidates.
type Tracker struct {
	mode       entity.ApprovalMode
	candidates []entity.CandidateHandler
}

// NewTracker creates a tracker for the given mode and candidates
func NewTracker(mode entity.ApprovalMode, candidates []entity.CandidateHandler) *Tracker {
	if mode == "" {
		mode = entity.ApprovalModeSingle
	}
	return &Tracker{
		mode:       mode,
		candidates: slices.Clone(candidates),
	}
}

// Authorize checks that userID may act on the step without recording anything.
// It returns the candidate's position.
func (t *Tracker) Authorize(userID string) (int, error) {
	idx := -1
	for i, c := range t.candidates {
		if c.UserID == userID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return -1, ErrNotCandidate
	}

	switch t.mode {
	case entity.ApprovalModeOr:
		for _, c := range t.candidates {
			if c.HasOperated {
				return -1, ErrAlreadyResolved
			}
		}
	case entity.ApprovalModeAnd:
		if t.candidates[idx].HasOperated {
			return -1, ErrAlreadyActed
		}
	default:
		if t.candidates[idx].HasOperated {
			return -1, ErrAlreadyResolved
		}
	}

	return idx, nil
}

// Approve records userID's approval and reports whether the step is now satisfied
func (t *Tracker) Approve(userID string) (bool, error) {
	idx, err := t.Authorize(userID)
	if err != nil {
		return false, err
	}
	t.candidates[idx].HasOperated = true
	return t.Satisfied(), nil
}

// Satisfied reports whether the step may advance
func (t *Tracker) Satisfied() bool {
	if len(t.candidates) == 0 {
		return false
	}
	switch t.mode {
	case entity.ApprovalModeAnd:
		for _, c := range t.candidates {
			if !c.HasOperated {
				return false
			}
		}
		return true
	default:
		for _, c := range t.candidates {
			if c.HasOperated {
				return true
			}
		}
		return false
	}
}

// Candidates returns a copy of the current candidate list
func (t *Tracker) Candidates() []entity.CandidateHandler {
	return slices.Clone(t.candidates)
}

// Pending returns candidates that have not acted yet
func (t *Tracker) Pending() []entity.CandidateHandler {
	var out []entity.CandidateHandler
	for _, c := range t.candidates {
		if !c.HasOperated {
			out = append(out, c)
		}
	}
	return out
}

// Remove drops userID from the candidate list and reports whether it was present
func (t *Tracker) Remove(userID string) bool {
	for i, c := range t.candidates {
		if c.UserID == userID {
			t.candidates = slices.Delete(t.candidates, i, i+1)
			return true
		}
	}
	return false
}
