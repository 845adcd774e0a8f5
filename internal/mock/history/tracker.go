package history

import (
	"sync"
	"time"
)

// Tracker is a pending "wait until Countdown more matching calls" request.
// A zero Deadline never expires.
type Tracker struct {
	ID        uint64
	Filter    Filter
	Countdown int
	Deadline  time.Time

	once  sync.Once
	reply func(error)
}

// NewTracker creates a tracker that answers through reply exactly once.
func NewTracker(id uint64, f Filter, countdown int, deadline time.Time, reply func(error)) *Tracker {
	return &Tracker{ID: id, Filter: f, Countdown: countdown, Deadline: deadline, reply: reply}
}

// Expired reports whether now is at or past the deadline.
func (t *Tracker) Expired(now time.Time) bool {
	return !t.Deadline.IsZero() && !now.Before(t.Deadline)
}

// Complete answers the waiting request. Later calls are ignored.
func (t *Tracker) Complete(err error) {
	t.once.Do(func() {
		if t.reply != nil {
			t.reply(err)
		}
	})
}

// Trackers is the set of live trackers of one unit.
type Trackers struct {
	live []*Tracker
}

// Add installs t.
func (s *Trackers) Add(t *Tracker) {
	s.live = append(s.live, t)
}

// Len returns the number of live trackers.
func (s *Trackers) Len() int {
	return len(s.live)
}

// Evaluate runs one pass for a newly appended record. Expired trackers are
// dropped even when r matches them. Matching trackers are decremented and
// removed once they reach zero. Callers complete the returned trackers.
func (s *Trackers) Evaluate(r Record, now time.Time) (fired, expired []*Tracker) {
	kept := s.live[:0]
	for _, t := range s.live {
		switch {
		case t.Expired(now):
			expired = append(expired, t)
		case t.Filter.Match(r):
			t.Countdown--
			if t.Countdown <= 0 {
				fired = append(fired, t)
				continue
			}
			kept = append(kept, t)
		default:
			kept = append(kept, t)
		}
	}
	clear(s.live[len(kept):])
	s.live = kept
	return fired, expired
}

// Expire drops and returns trackers whose deadline has passed.
func (s *Trackers) Expire(now time.Time) []*Tracker {
	var expired []*Tracker
	kept := s.live[:0]
	for _, t := range s.live {
		if t.Expired(now) {
			expired = append(expired, t)
			continue
		}
		kept = append(kept, t)
	}
	clear(s.live[len(kept):])
	s.live = kept
	return expired
}

// Drain removes and returns every live tracker.
func (s *Trackers) Drain() []*Tracker {
	out := s.live
	s.live = nil
	return out
}
