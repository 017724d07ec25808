// Package domain contains entity without logic, just meta-data
package domain

import "errors"

const (
	MaxParticipantIDLen = 36
	MaxDisplayNameLen   = 64
)

var (
	ErrParticipantIDEmpty   = errors.New("participant id empty")
	ErrParticipantIDTooLong = errors.New("participant id too long")
	ErrDisplayNameTooLong   = errors.New("display name too long")
	ErrDisplayNameEmpty     = errors.New("display name empty")
	ErrUnknownKind          = errors.New("unknown participant kind")
)

type ParticipantID string

// ParticipantKind is who the participant is in the interview.
type ParticipantKind string

const (
	KindCandidate ParticipantKind = "CANDIDATE"
	KindRecruiter ParticipantKind = "RECRUITER"
)

// Role decides which side drives offer/answer negotiation. It is derived
// from the participant kind, never negotiated over the wire.
type Role string

const (
	RoleInitiator Role = "INITIATOR"
	RoleResponder Role = "RESPONDER"
)

// RoleFor maps the interview kind to the negotiation role. The recruiter
// always initiates so both sides agree without any exchange.
func RoleFor(kind ParticipantKind) Role {
	if kind == KindRecruiter {
		return RoleInitiator
	}
	return RoleResponder
}

type Participant struct {
	ID          ParticipantID   `json:"id"`
	DisplayName string          `json:"displayName"`
	Kind        ParticipantKind `json:"kind"`
}

// NewParticipant validates an identity handed to us by the auth service.
// IDs are minted there, never locally.
func NewParticipant(id ParticipantID, displayName string, kind ParticipantKind) (Participant, error) {
	if id == "" {
		return Participant{}, ErrParticipantIDEmpty
	}
	if len(id) > MaxParticipantIDLen {
		return Participant{}, ErrParticipantIDTooLong
	}
	if len(displayName) == 0 {
		return Participant{}, ErrDisplayNameEmpty
	}
	if len(displayName) > MaxDisplayNameLen {
		return Participant{}, ErrDisplayNameTooLong
	}
	if kind != KindCandidate && kind != KindRecruiter {
		return Participant{}, ErrUnknownKind
	}
	return Participant{
		ID:          id,
		DisplayName: displayName,
		Kind:        kind,
	}, nil
}
