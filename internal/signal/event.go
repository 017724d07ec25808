package signal

import "fmt"

// Event is the typed view of an inbound envelope. Every relay message maps
// to exactly one variant, so a switch over Event can be checked for
// exhaustiveness instead of probing raw JSON fields.
type Event interface {
	isEvent()
}

type UserJoined struct {
	UserID   string
	UserName string
	UserType string
}

type UserLeft struct {
	UserID string
}

type Offer struct {
	SenderID   string
	SenderName string
	SDP        SDP
	Restart    bool
}

type Answer struct {
	SenderID string
	SDP      SDP
}

type IceCandidate struct {
	SenderID  string
	Candidate Candidate
}

type ErrorSignal struct {
	Message string
}

func (UserJoined) isEvent()   {}
func (UserLeft) isEvent()     {}
func (Offer) isEvent()        {}
func (Answer) isEvent()       {}
func (IceCandidate) isEvent() {}
func (ErrorSignal) isEvent()  {}

// Event converts a validated envelope into its typed variant.
func (e Envelope) Event() (Event, error) {
	switch e.Type {
	case TypeUserJoined:
		name := e.UserName
		kind := e.UserType
		if e.UserInfo != nil {
			if e.UserInfo.DisplayName != "" {
				name = e.UserInfo.DisplayName
			}
			if e.UserInfo.UserType != "" {
				kind = e.UserInfo.UserType
			}
		}
		return UserJoined{UserID: e.UserID, UserName: name, UserType: kind}, nil
	case TypeUserLeft:
		return UserLeft{UserID: e.UserID}, nil
	case TypeOffer:
		return Offer{SenderID: e.UserID, SenderName: e.UserName, SDP: *e.Offer, Restart: e.Restart}, nil
	case TypeAnswer:
		return Answer{SenderID: e.UserID, SDP: *e.Answer}, nil
	case TypeICECandidate:
		return IceCandidate{SenderID: e.UserID, Candidate: *e.Candidate}, nil
	case TypeError:
		return ErrorSignal{Message: e.Message}, nil
	case TypeJoinRoom:
		return nil, fmt.Errorf("%w: join_room is outbound only", ErrUnknownType)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, e.Type)
}
