package gateway

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pastaland/gondola/discord"
)

// session holds the resumable and per-connection state of one shard.
// Sequence is atomic so the read loop and heartbeat goroutine can touch
// it without taking the session lock.
type session struct {
	sequence *int64

	mu sync.RWMutex

	sessionID string
	resumeURL string

	status Status

	connectAttempts   int
	reconnectInterval time.Duration

	// presence is the last presence sent or configured, replayed on
	// identify.
	presence *discord.UpdatePresence

	// application is the bot's application as reported by READY.
	application *discord.Application

	lastHeartbeatSent time.Time
	lastHeartbeatAck  time.Time
	heartbeatAcked    bool
}

func newSession() *session {
	return &session{
		sequence:          new(int64),
		status:            StatusDisconnected,
		reconnectInterval: initialReconnectInterval,
		heartbeatAcked:    true,
	}
}

func (s *session) Sequence() int64 {
	return atomic.LoadInt64(s.sequence)
}

func (s *session) SetSequence(seq int64) {
	atomic.StoreInt64(s.sequence, seq)
}

func (s *session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.status
}

func (s *session) SetStatus(status Status) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

func (s *session) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.sessionID
}

func (s *session) ResumeURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.resumeURL
}

func (s *session) SetSession(sessionID, resumeURL string) {
	s.mu.Lock()
	s.sessionID = sessionID
	s.resumeURL = resumeURL
	s.mu.Unlock()
}

// Resumable reports whether enough state is held to attempt a resume.
func (s *session) Resumable() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.sessionID != "" && atomic.LoadInt64(s.sequence) > 0
}

// ClearSession forgets the resume state, forcing the next connect to
// identify from scratch.
func (s *session) ClearSession() {
	s.mu.Lock()
	s.sessionID = ""
	s.resumeURL = ""
	s.mu.Unlock()
	atomic.StoreInt64(s.sequence, 0)
}

func (s *session) Presence() *discord.UpdatePresence {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.presence
}

func (s *session) SetPresence(p *discord.UpdatePresence) {
	s.mu.Lock()
	s.presence = p
	s.mu.Unlock()
}

func (s *session) Application() *discord.Application {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.application
}

func (s *session) SetApplication(app *discord.Application) {
	s.mu.Lock()
	s.application = app
	s.mu.Unlock()
}

// HeartbeatSent records an outgoing heartbeat and marks it
// unacknowledged.
func (s *session) HeartbeatSent(at time.Time) {
	s.mu.Lock()
	s.lastHeartbeatSent = at
	s.heartbeatAcked = false
	s.mu.Unlock()
}

// HeartbeatAcked records an acknowledgement from the server.
func (s *session) HeartbeatAcked(at time.Time) {
	s.mu.Lock()
	s.lastHeartbeatAck = at
	s.heartbeatAcked = true
	s.mu.Unlock()
}

// MarkAlive forces the ack flag on without touching the latency
// timestamps. Used when something other than HEARTBEAT_ACK proves the
// connection is alive.
func (s *session) MarkAlive() {
	s.mu.Lock()
	s.heartbeatAcked = true
	s.mu.Unlock()
}

// Acked reports whether the last heartbeat has been acknowledged.
func (s *session) Acked() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.heartbeatAcked
}

// Latency is the round trip time of the last acknowledged heartbeat.
// Zero until a full send/ack pair has completed.
func (s *session) Latency() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.lastHeartbeatAck.Before(s.lastHeartbeatSent) {
		return 0
	}

	return s.lastHeartbeatAck.Sub(s.lastHeartbeatSent)
}

// ConnectAttempt bumps the attempt counter and returns the new count.
func (s *session) ConnectAttempt() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.connectAttempts++

	return s.connectAttempts
}

// connectAttemptsExceeded reports whether the attempt budget is spent.
func (s *session) connectAttemptsExceeded(max int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return max > 0 && s.connectAttempts >= max
}

// ConnectSucceeded resets the attempt counter and backoff after a
// successful handshake.
func (s *session) ConnectSucceeded() {
	s.mu.Lock()
	s.connectAttempts = 0
	s.reconnectInterval = initialReconnectInterval
	s.mu.Unlock()
}

// NextReconnectWait returns how long to sleep before the next reconnect
// attempt and advances the jittered exponential backoff, capped at
// maxReconnectInterval.
func (s *session) NextReconnectWait(jitter float64) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	wait := s.reconnectInterval

	next := time.Duration(float64(s.reconnectInterval) * (jitter*2 + 1))
	if next > maxReconnectInterval {
		next = maxReconnectInterval
	}
	s.reconnectInterval = next

	return wait
}
