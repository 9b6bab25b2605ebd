package domain

import (
	"fmt"
	"strings"
	"time"
)

type Provenance string

const (
	ProvenanceVector Provenance = "vector"
	ProvenanceText   Provenance = "text"
	ProvenanceHybrid Provenance = "hybrid"
)

// Chunk is an immutable unit of archived conversation owned by the chunk store.
type Chunk struct {
	ID           string    `json:"id"`
	ClientID     string    `json:"client_id"`
	RoomID       string    `json:"room_id"`
	RoomName     string    `json:"room_name"`
	RoomType     string    `json:"room_type"`
	Text         string    `json:"text"`
	FirstTS      time.Time `json:"first_ts"`
	LastTS       time.Time `json:"last_ts"`
	Participants []string  `json:"participants"`
	TokenCount   int       `json:"token_count"`
}

// Candidate is a chunk scored for one request.
type Candidate struct {
	Chunk
	Score       float64    `json:"score"`
	Provenance  Provenance `json:"provenance"`
	ContentHash string     `json:"content_hash,omitempty"`
}

type Citation struct {
	ID       string  `json:"id"`
	RoomName string  `json:"room_name"`
	TimeSpan string  `json:"time_span"`
	Preview  string  `json:"preview"`
	Score    float64 `json:"score"`
}

// Filter holds caller-supplied constraints. Date bounds are inclusive; zero values are unbounded.
type Filter struct {
	RoomIDs      []string  `json:"room_ids,omitempty"`
	RoomTypes    []string  `json:"room_types,omitempty"`
	DateFrom     time.Time `json:"date_from,omitzero"`
	DateTo       time.Time `json:"date_to,omitzero"`
	Participants []string  `json:"participants,omitempty"`
}

func (f Filter) HasDateRange() bool {
	return !f.DateFrom.IsZero() || !f.DateTo.IsZero()
}

// Clone returns a copy that shares no slices with f.
func (f Filter) Clone() Filter {
	out := f
	out.RoomIDs = append([]string(nil), f.RoomIDs...)
	out.RoomTypes = append([]string(nil), f.RoomTypes...)
	out.Participants = append([]string(nil), f.Participants...)
	return out
}

// Matches reports whether the chunk satisfies every dimension of the filter.
func (f Filter) Matches(chunk Chunk) bool {
	if len(f.RoomIDs) > 0 && !containsFold(f.RoomIDs, chunk.RoomID) {
		return false
	}
	if len(f.RoomTypes) > 0 && !containsFold(f.RoomTypes, chunk.RoomType) {
		return false
	}
	if !f.DateFrom.IsZero() {
		end := chunk.LastTS
		if end.IsZero() {
			end = chunk.FirstTS
		}
		if end.IsZero() || end.Before(f.DateFrom) {
			return false
		}
	}
	if !f.DateTo.IsZero() {
		start := chunk.FirstTS
		if start.IsZero() {
			start = chunk.LastTS
		}
		if start.IsZero() || start.After(f.DateTo) {
			return false
		}
	}
	if len(f.Participants) > 0 {
		overlap := false
		for _, p := range chunk.Participants {
			if containsFold(f.Participants, p) {
				overlap = true
				break
			}
		}
		if !overlap {
			return false
		}
	}
	return true
}

func containsFold(values []string, target string) bool {
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), strings.TrimSpace(target)) {
			return true
		}
	}
	return false
}

// ParseFilterDate accepts RFC 3339 or a bare YYYY-MM-DD date. A bare date used as an upper
// bound covers the whole day. Empty input yields the zero time.
func ParseFilterDate(value string, upperBound bool) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts.UTC(), nil
	}
	day, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is not RFC 3339 or YYYY-MM-DD", value)
	}
	if upperBound {
		return day.Add(24*time.Hour - time.Nanosecond), nil
	}
	return day, nil
}
