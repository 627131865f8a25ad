package presence

import (
	"fmt"
	"strings"
	"time"
)

// Status is a user's availability.
type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusBusy    Status = "busy"
	StatusOffline Status = "offline"
)

// ParseStatus validates s as a Status.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusOnline, StatusAway, StatusBusy, StatusOffline:
		return st, nil
	default:
		return "", fmt.Errorf("invalid presence status %q (must be one of: online, away, busy, offline)", s)
	}
}

// Source tells whether a status was inferred automatically or set by the user.
type Source string

const (
	SourceAuto   Source = "auto"
	SourceManual Source = "manual"
)

// ParseSource validates s as a Source.
func ParseSource(s string) (Source, error) {
	switch src := Source(strings.ToLower(strings.TrimSpace(s))); src {
	case SourceAuto, SourceManual:
		return src, nil
	default:
		return "", fmt.Errorf("invalid status source %q", s)
	}
}

// Record is the merged presence state of one user.
type Record struct {
	Status             Status     `json:"status"`
	CustomStatus       *string    `json:"customStatus,omitempty"`
	StatusSource       Source     `json:"statusSource"`
	ManualStatus       *Status    `json:"manualStatus,omitempty"`
	ManualCustomStatus *string    `json:"manualCustomStatus,omitempty"`
	LastSeenAt         *time.Time `json:"lastSeenAt,omitempty"`
	Timestamp          *time.Time `json:"timestamp,omitempty"`
}

// Manual reports whether the record carries an active manual override.
func (r Record) Manual() bool {
	return r.StatusSource == SourceManual && r.ManualStatus != nil
}

// Fields is a set of nullable record fields.
type Fields uint8

const (
	FieldCustomStatus Fields = 1 << iota
	FieldManualStatus
	FieldManualCustomStatus
)

// Update is a partial presence record for one user. Nil pointers mean the
// sender did not send the field; Cleared marks nullable fields the sender
// explicitly set to null.
type Update struct {
	UserID             string
	Status             *Status
	CustomStatus       *string
	StatusSource       *Source
	ManualStatus       *Status
	ManualCustomStatus *string
	LastSeenAt         *time.Time
	Timestamp          *time.Time
	Cleared            Fields
}

// autoSourced reports whether the update comes from automatic inference.
// Updates without a source are treated as automatic.
func (u Update) autoSourced() bool {
	return u.StatusSource == nil || *u.StatusSource == SourceAuto
}

// Ptr returns a pointer to v, for building updates.
func Ptr[T any](v T) *T { return &v }
