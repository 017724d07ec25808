// Package session holds the authoritative in-memory record of one meeting.
package session

import (
	"sync"

	"github.com/vaishnavt2002/meetcore/internal/domain"
	"github.com/vaishnavt2002/meetcore/internal/signal"
)

// Status is the session-level connection status. It only moves forward,
// except for the single permitted CONNECTED<->RECONNECTING oscillation;
// CLOSED is terminal.
type Status string

const (
	StatusNew          Status = "NEW"
	StatusNegotiating  Status = "NEGOTIATING"
	StatusConnected    Status = "CONNECTED"
	StatusReconnecting Status = "RECONNECTING"
	StatusClosed       Status = "CLOSED"
)

var allowed = map[Status]map[Status]bool{
	StatusNew:          {StatusNegotiating: true, StatusClosed: true},
	StatusNegotiating:  {StatusConnected: true, StatusNew: true, StatusClosed: true},
	StatusConnected:    {StatusReconnecting: true, StatusNew: true, StatusClosed: true},
	StatusReconnecting: {StatusConnected: true, StatusNew: true, StatusClosed: true},
	StatusClosed:       {},
}

// State is the per-meeting session record. One State lives per controller;
// all mutation goes through it so the connection status, the peer and the
// pending candidate set stay consistent.
type State struct {
	mu sync.Mutex

	meetingID domain.MeetingID
	local     domain.Participant
	role      domain.Role

	status  Status
	peer    *domain.Participant
	pending []signal.Candidate
}

func New(meetingID domain.MeetingID, local domain.Participant) *State {
	return &State{
		meetingID: meetingID,
		local:     local,
		role:      domain.RoleFor(local.Kind),
		status:    StatusNew,
	}
}

func (s *State) MeetingID() domain.MeetingID { return s.meetingID }
func (s *State) Local() domain.Participant   { return s.local }
func (s *State) Role() domain.Role           { return s.role }

func (s *State) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Advance moves the status if the transition is legal; it reports whether
// the move happened. Illegal moves (anything after CLOSED, skipping
// backwards) leave the status untouched.
func (s *State) Advance(to Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == to {
		return false
	}
	if !allowed[s.status][to] {
		return false
	}
	s.status = to
	return true
}

func (s *State) Peer() (domain.Participant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.peer == nil {
		return domain.Participant{}, false
	}
	return *s.peer, true
}

func (s *State) SetPeer(p domain.Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := p
	s.peer = &cp
}

// ClearPeer drops the peer and any candidates queued for it.
func (s *State) ClearPeer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peer = nil
	s.pending = nil
}

// AddPending queues an ICE candidate that arrived before the remote
// description.
func (s *State) AddPending(c signal.Candidate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, c)
}

// TakePending returns the queued candidates and clears the set in one step,
// so a candidate is flushed exactly once.
func (s *State) TakePending() []signal.Candidate {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.pending
	s.pending = nil
	return out
}

func (s *State) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
