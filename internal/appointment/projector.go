package appointment

import "time"

// later reports whether (at, id) sorts after (otherAt, otherID). Events that
// share a timestamp are ordered by id so the later insert wins.
func later(at time.Time, id int64, otherAt time.Time, otherID int64) bool {
	if !at.Equal(otherAt) {
		return at.After(otherAt)
	}
	return id > otherID
}

// CurrentStatus returns the status of the most recent event, or Pending when
// the history is empty.
func CurrentStatus(events []StatusEvent) Status {
	if len(events) == 0 {
		return StatusPending
	}
	latest := events[0]
	for _, e := range events[1:] {
		if later(e.CreatedAt, e.ID, latest.CreatedAt, latest.ID) {
			latest = e
		}
	}
	return latest.Status
}

// LastCancellation returns the most recent record or nil.
func LastCancellation(records []CancellationRecord) *CancellationRecord {
	if len(records) == 0 {
		return nil
	}
	latest := records[0]
	for _, r := range records[1:] {
		if later(r.CreatedAt, r.ID, latest.CreatedAt, latest.ID) {
			latest = r
		}
	}
	return &latest
}

// Project derives the current status and last cancellation details.
func Project(events []StatusEvent, records []CancellationRecord) Projection {
	p := Projection{Status: CurrentStatus(events)}
	if last := LastCancellation(records); last != nil {
		actor := last.Actor
		p.CancelReason = last.Reason
		p.CancelActor = &actor
	}
	return p
}
