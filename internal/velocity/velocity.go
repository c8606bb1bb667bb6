// Package velocity counts recently opened accounts for rolling-window rules.
package velocity

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/opensource-finance/harrier/internal/calendar"
	"github.com/opensource-finance/harrier/internal/domain"
)

// The 5/24 shape: personal cards from any issuer over 24 months.
const (
	Window524   = 24
	MaxCount524 = 5
)

// Filter decides which history records a count considers.
type Filter struct {
	Issuer string
	Scope  domain.Scope
}

// Includes reports whether a card passes the filter.
func (f Filter) Includes(card domain.UserCard) bool {
	return f.Scope.Includes(f.Issuer, card)
}

// Personal524 is the filter behind the 5/24 schedule.
var Personal524 = Filter{Scope: domain.Scope{AllIssuers: true, BusinessExempt: true}}

// Aging is one counted card and the date it leaves the window.
type Aging struct {
	Card    domain.UserCard `json:"card"`
	AgesOut time.Time       `json:"agesOut"`
}

// Count returns the number of cards opened inside the windowMonths window
// ending at now. Closed cards still count; only age-out clears them.
func Count(cards []domain.UserCard, windowMonths int, now time.Time, filter Filter) int {
	n := 0
	for _, c := range cards {
		if filter.Includes(c) && calendar.Within(c.OpenDate, now, windowMonths) {
			n++
		}
	}
	return n
}

// Schedule returns every counted card with its age-out date, soonest first.
func Schedule(cards []domain.UserCard, windowMonths int, now time.Time, filter Filter) []Aging {
	out := make([]Aging, 0, len(cards))
	for _, c := range cards {
		if !filter.Includes(c) || !calendar.Within(c.OpenDate, now, windowMonths) {
			continue
		}
		out = append(out, Aging{Card: c, AgesOut: calendar.AgesOut(c.OpenDate, windowMonths)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].AgesOut.Equal(out[j].AgesOut) {
			return out[i].Card.ID < out[j].Card.ID
		}
		return out[i].AgesOut.Before(out[j].AgesOut)
	})
	return out
}

// AgingScheduleFor524 lists personal cards opened in the trailing 24 months
// with their age-out dates. Its length is the current 5/24 count.
func AgingScheduleFor524(cards []domain.UserCard, now time.Time) []Aging {
	return Schedule(cards, Window524, now, Personal524)
}

// UpcomingSlots walks a schedule and reports the count remaining after each
// age-out date.
func UpcomingSlots(schedule []Aging) []domain.Slot {
	slots := make([]domain.Slot, 0, len(schedule))
	remaining := len(schedule)
	for _, a := range schedule {
		remaining--
		slots = append(slots, domain.Slot{Date: a.AgesOut, CountAfter: remaining})
	}
	return slots
}

// ClearsAt returns the first date on which the scheduled count drops below
// maxCount, or nil when it is already below.
func ClearsAt(schedule []Aging, maxCount int) *time.Time {
	excess := len(schedule) - maxCount
	if excess < 0 {
		return nil
	}
	d := schedule[excess].AgesOut
	return &d
}

// Snapshot is a user's 5/24 position.
type Snapshot struct {
	UserID   string        `json:"userId"`
	AsOf     time.Time     `json:"asOf"`
	Count    int           `json:"count"`
	Limit    int           `json:"limit"`
	Schedule []Aging       `json:"schedule"`
	Slots    []domain.Slot `json:"upcomingSlots"`
	NextSlot *time.Time    `json:"nextSlot,omitempty"`
	Rejected []string      `json:"rejectedCards,omitempty"`
}

// Service loads card history and computes velocity snapshots.
type Service struct {
	repo domain.Repository
}

// NewService creates a new velocity service.
func NewService(repo domain.Repository) *Service {
	return &Service{repo: repo}
}

// Snapshot returns the 5/24 position for a user as of now.
func (s *Service) Snapshot(ctx context.Context, userID string, now time.Time) (*Snapshot, error) {
	if userID == "" {
		return nil, fmt.Errorf("userID is required")
	}
	if s.repo == nil {
		return nil, fmt.Errorf("no data source available")
	}

	cards, err := s.repo.ListCards(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cards: %w", err)
	}

	snap := &Snapshot{UserID: userID, AsOf: now, Limit: MaxCount524}
	valid := make([]domain.UserCard, 0, len(cards))
	for _, c := range cards {
		if err := c.Validate(); err != nil {
			snap.Rejected = append(snap.Rejected, c.ID)
			continue
		}
		valid = append(valid, c)
	}

	snap.Schedule = AgingScheduleFor524(valid, now)
	snap.Count = len(snap.Schedule)
	snap.Slots = UpcomingSlots(snap.Schedule)
	snap.NextSlot = ClearsAt(snap.Schedule, MaxCount524)
	return snap, nil
}
