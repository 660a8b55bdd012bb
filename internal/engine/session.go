package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// sessionRef is the per-(symbol, trading day) gap baseline: the previous
// close reported by the feed, captured once at session start and never
// mutated for the rest of the day.
type sessionRef struct {
	date       string
	price      decimal.Decimal
	capturedAt time.Time
}

type sessionRefs struct {
	refs map[string]sessionRef
}

func newSessionRefs() *sessionRefs {
	return &sessionRefs{refs: make(map[string]sessionRef)}
}

// Capture records the reference for symbol on sessionDate if not already
// present. Later captures the same day are ignored.
func (s *sessionRefs) Capture(symbol, sessionDate string, price decimal.Decimal, at time.Time) {
	if price.IsZero() {
		return
	}
	if existing, ok := s.refs[symbol]; ok && existing.date == sessionDate {
		return
	}
	s.refs[symbol] = sessionRef{date: sessionDate, price: price, capturedAt: at}
}

// Ref returns the reference captured for symbol on sessionDate.
func (s *sessionRefs) Ref(symbol, sessionDate string) (decimal.Decimal, bool) {
	ref, ok := s.refs[symbol]
	if !ok || ref.date != sessionDate {
		return decimal.Decimal{}, false
	}
	return ref.price, true
}

// Prune drops references from previous sessions.
func (s *sessionRefs) Prune(sessionDate string) {
	for symbol, ref := range s.refs {
		if ref.date != sessionDate {
			delete(s.refs, symbol)
		}
	}
}
