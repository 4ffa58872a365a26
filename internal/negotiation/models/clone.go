package models

import "time"

// Clone deep-copies the aggregate. The in-memory store mutates a clone inside
// Execute and discards it on error, and services hand clones across the lock
// boundary, so callers can never alias stored state.
func (n *Negotiation) Clone() *Negotiation {
	if n == nil {
		return nil
	}
	out := *n
	out.CompletionDate = copyTime(n.CompletionDate)
	if n.WorkflowID != nil {
		wf := *n.WorkflowID
		out.WorkflowID = &wf
	}
	if n.Rates != nil {
		out.Rates = make([]*Rate, len(n.Rates))
		for i, r := range n.Rates {
			out.Rates[i] = r.Clone()
		}
	}
	if n.Staged != nil {
		out.Staged = make([]StagedDecision, len(n.Staged))
		for i, d := range n.Staged {
			out.Staged[i] = d
			if d.Amount != nil {
				amount := *d.Amount
				out.Staged[i].Amount = &amount
			}
		}
	}
	if n.History != nil {
		out.History = append([]HistoryItem(nil), n.History...)
	}
	return &out
}

// Clone deep-copies one rate line including its history.
func (r *Rate) Clone() *Rate {
	if r == nil {
		return nil
	}
	out := *r
	out.ExpirationDate = copyTime(r.ExpirationDate)
	out.PriorExpiration = copyTime(r.PriorExpiration)
	if r.ApprovedAmount != nil {
		amount := *r.ApprovedAmount
		out.ApprovedAmount = &amount
	}
	if r.History != nil {
		out.History = append([]RateHistoryItem(nil), r.History...)
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
