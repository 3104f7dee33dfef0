package httpapi

import (
	"context"
	"sync"

	"outreach-platform/internal/queue"
)

// Session is one caller's live view of a campaign queue. The store mirrors
// the change feed for the session's lifetime; current* track the engagement
// the caller is on right now.
type Session struct {
	WorkspaceID string
	CampaignID  string
	CallerID    string

	Store *queue.Store

	mu               sync.Mutex
	currentContactID string
	currentQueueID   string
	currentAttemptID string
	currentCallSid   string

	cancel context.CancelFunc
}

// SetCurrent records the engagement handed to the caller.
func (s *Session) SetCurrent(contactID, queueID, attemptID, callSid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentContactID = contactID
	s.currentQueueID = queueID
	s.currentAttemptID = attemptID
	s.currentCallSid = callSid
}

// Current returns the engagement the caller is on, if any.
func (s *Session) Current() (contactID, queueID, attemptID, callSid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentContactID, s.currentQueueID, s.currentAttemptID, s.currentCallSid
}

// ClearCurrent drops the engagement after dequeue or leave.
func (s *Session) ClearCurrent() {
	s.SetCurrent("", "", "", "")
}

// ClearCall drops only the live call sid. The queue engagement stays so the
// caller can still dequeue or redial the same contact after hangup.
func (s *Session) ClearCall() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentCallSid = ""
}

func (s *Session) stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Sessions tracks live caller sessions keyed by (campaign, caller).
type Sessions struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewSessions() *Sessions {
	return &Sessions{sessions: make(map[string]*Session)}
}

func sessionKey(campaignID, callerID string) string {
	return campaignID + ":" + callerID
}

// Put registers a session, stopping any previous one for the same key.
func (m *Sessions) Put(s *Session) {
	key := sessionKey(s.CampaignID, s.CallerID)
	m.mu.Lock()
	prev := m.sessions[key]
	m.sessions[key] = s
	m.mu.Unlock()
	if prev != nil {
		prev.stop()
	}
}

func (m *Sessions) Get(campaignID, callerID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionKey(campaignID, callerID)]
	return s, ok
}

// Remove drops and stops a session.
func (m *Sessions) Remove(campaignID, callerID string) (*Session, bool) {
	key := sessionKey(campaignID, callerID)
	m.mu.Lock()
	s, ok := m.sessions[key]
	delete(m.sessions, key)
	m.mu.Unlock()
	if ok {
		s.stop()
	}
	return s, ok
}
