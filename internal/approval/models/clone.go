package models

import "time"

// Clone returns a deep copy so stores can hand out snapshots that mutations
// cannot reach.
func (w *Workflow) Clone() *Workflow {
	if w == nil {
		return nil
	}
	out := *w
	out.CompletedAt = copyTime(w.CompletedAt)
	out.Steps = make([]*Step, len(w.Steps))
	for i, step := range w.Steps {
		cs := *step
		cs.Deadline = copyTime(step.Deadline)
		cs.DecidedAt = copyTime(step.DecidedAt)
		if step.DecidedBy != nil {
			actor := *step.DecidedBy
			cs.DecidedBy = &actor
		}
		out.Steps[i] = &cs
	}
	return &out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
