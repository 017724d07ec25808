// Package signal carries the wire contract with the signaling relay and the
// client transport that speaks it.
package signal

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

type Type string

const (
	TypeJoinRoom     Type = "join_room"
	TypeUserJoined   Type = "user_joined"
	TypeUserLeft     Type = "user_left"
	TypeOffer        Type = "offer"
	TypeAnswer       Type = "answer"
	TypeICECandidate Type = "ice_candidate"
	TypeError        Type = "error"
)

var (
	ErrUnknownType   = errors.New("signal: unknown message type")
	ErrMissingField  = errors.New("signal: missing required field")
	ErrBadSDPType    = errors.New("signal: bad session description type")
	ErrNotAnEnvelope = errors.New("signal: not a signal envelope")
)

// SDP is the JSON-friendly shape of an offer/answer description.
type SDP struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func SDPFromPion(desc webrtc.SessionDescription) SDP {
	return SDP{Type: desc.Type.String(), SDP: desc.SDP}
}

func (s SDP) ToPion() (webrtc.SessionDescription, error) {
	var t webrtc.SDPType
	switch s.Type {
	case "offer":
		t = webrtc.SDPTypeOffer
	case "answer":
		t = webrtc.SDPTypeAnswer
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("%w: %q", ErrBadSDPType, s.Type)
	}
	return webrtc.SessionDescription{Type: t, SDP: s.SDP}, nil
}

type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

func CandidateFromPion(init webrtc.ICECandidateInit) Candidate {
	return Candidate{
		Candidate:        init.Candidate,
		SDPMid:           init.SDPMid,
		SDPMLineIndex:    init.SDPMLineIndex,
		UsernameFragment: init.UsernameFragment,
	}
}

func (c Candidate) ToPion() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

// UserInfo is the optional profile blob a relay may attach to user_joined.
type UserInfo struct {
	DisplayName string `json:"displayName,omitempty"`
	UserType    string `json:"userType,omitempty"`
}

// Envelope is the wire message. Immutable once sent; one struct covers every
// type, Validate enforces the per-type required fields.
type Envelope struct {
	Type      Type   `json:"type"`
	MeetingID string `json:"meetingId"`

	UserID   string    `json:"userId,omitempty"`
	UserName string    `json:"userName,omitempty"`
	UserType string    `json:"userType,omitempty"`
	UserInfo *UserInfo `json:"userInfo,omitempty"`

	TargetUserID string `json:"targetUserId,omitempty"`

	Offer     *SDP       `json:"offer,omitempty"`
	Answer    *SDP       `json:"answer,omitempty"`
	Candidate *Candidate `json:"candidate,omitempty"`

	// Restart marks a renegotiation offer carrying an ICE restart.
	Restart bool `json:"restart,omitempty"`

	Message string `json:"message,omitempty"`
}

func Parse(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrNotAnEnvelope, err)
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

func (e Envelope) Validate() error {
	if e.MeetingID == "" {
		return fmt.Errorf("%w: meetingId", ErrMissingField)
	}
	switch e.Type {
	case TypeJoinRoom:
		if e.UserID == "" || e.UserName == "" || e.UserType == "" {
			return fmt.Errorf("%w: join_room userId/userName/userType", ErrMissingField)
		}
	case TypeUserJoined:
		if e.UserID == "" || e.UserName == "" {
			return fmt.Errorf("%w: user_joined userId/userName", ErrMissingField)
		}
	case TypeUserLeft:
		if e.UserID == "" {
			return fmt.Errorf("%w: user_left userId", ErrMissingField)
		}
	case TypeOffer:
		if e.Offer == nil {
			return fmt.Errorf("%w: offer sdp", ErrMissingField)
		}
		if e.Offer.Type != "offer" {
			return fmt.Errorf("%w: offer carries %q", ErrBadSDPType, e.Offer.Type)
		}
		if e.UserID == "" || e.TargetUserID == "" {
			return fmt.Errorf("%w: offer userId/targetUserId", ErrMissingField)
		}
	case TypeAnswer:
		if e.Answer == nil {
			return fmt.Errorf("%w: answer sdp", ErrMissingField)
		}
		if e.Answer.Type != "answer" {
			return fmt.Errorf("%w: answer carries %q", ErrBadSDPType, e.Answer.Type)
		}
		if e.UserID == "" || e.TargetUserID == "" {
			return fmt.Errorf("%w: answer userId/targetUserId", ErrMissingField)
		}
	case TypeICECandidate:
		if e.Candidate == nil {
			return fmt.Errorf("%w: ice_candidate candidate", ErrMissingField)
		}
		if e.UserID == "" {
			return fmt.Errorf("%w: ice_candidate userId", ErrMissingField)
		}
	case TypeError:
		if e.Message == "" {
			return fmt.Errorf("%w: error message", ErrMissingField)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, e.Type)
	}
	return nil
}

// AcceptFor reports whether the envelope belongs to this session. Envelopes
// for another meeting, or targeted at someone else, are dropped silently by
// the caller; mismatch is not an error.
func (e Envelope) AcceptFor(meetingID, selfID string) bool {
	if e.MeetingID != meetingID {
		return false
	}
	if e.TargetUserID != "" && e.TargetUserID != selfID {
		return false
	}
	return true
}

func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}
