package gateway

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestGatewayErrorFatalCodes(t *testing.T) {
	fatal := []int{
		CloseAuthenticationFailed,
		CloseInvalidShard,
		CloseShardingRequired,
		CloseInvalidAPIVersion,
		CloseInvalidIntents,
		CloseDisallowedIntents,
	}
	for _, code := range fatal {
		if !(&GatewayError{Code: code}).Fatal() {
			t.Fatalf("expected close code %d to be fatal", code)
		}
	}

	recoverable := []int{
		CloseUnknownError,
		CloseDecodeError,
		CloseNotAuthenticated,
		CloseInvalidSequence,
		CloseRateLimited,
		CloseSessionTimeout,
	}
	for _, code := range recoverable {
		if (&GatewayError{Code: code}).Fatal() {
			t.Fatalf("expected close code %d to allow reconnecting", code)
		}
	}
}

func TestSessionResumable(t *testing.T) {
	s := newSession()

	if s.Resumable() {
		t.Fatal("fresh session must not be resumable")
	}

	s.SetSession("sess", "wss://resume.discord.gg")
	if s.Resumable() {
		t.Fatal("session without progress must not be resumable")
	}

	s.SetSequence(10)
	if !s.Resumable() {
		t.Fatal("session with id and sequence must be resumable")
	}

	s.ClearSession()
	if s.Resumable() || s.Sequence() != 0 || s.SessionID() != "" {
		t.Fatal("expected ClearSession to forget everything")
	}
}

func TestSessionBackoffDoublesAndCaps(t *testing.T) {
	s := newSession()

	// Midpoint jitter doubles the interval each attempt.
	if wait := s.NextReconnectWait(0.5); wait != initialReconnectInterval {
		t.Fatalf("expected first wait of %s, got %s", initialReconnectInterval, wait)
	}
	if wait := s.NextReconnectWait(0.5); wait != 2*initialReconnectInterval {
		t.Fatalf("expected second wait of %s, got %s", 2*initialReconnectInterval, wait)
	}

	for i := 0; i < 16; i++ {
		s.NextReconnectWait(1)
	}

	if wait := s.NextReconnectWait(0); wait != maxReconnectInterval {
		t.Fatalf("expected backoff to cap at %s, got %s", maxReconnectInterval, wait)
	}
}

func TestSessionBackoffResetsOnSuccess(t *testing.T) {
	s := newSession()

	s.NextReconnectWait(1)
	s.NextReconnectWait(1)
	s.ConnectAttempt()
	s.ConnectAttempt()

	s.ConnectSucceeded()

	if wait := s.NextReconnectWait(0); wait != initialReconnectInterval {
		t.Fatalf("expected backoff reset, got %s", wait)
	}
	if s.connectAttemptsExceeded(1) {
		t.Fatal("expected attempt counter to reset")
	}
}

func TestSessionConnectAttemptsExceeded(t *testing.T) {
	s := newSession()

	for i := 0; i < defaultMaxReconnectTries; i++ {
		if s.connectAttemptsExceeded(defaultMaxReconnectTries) {
			t.Fatalf("budget exhausted too early at attempt %d", i)
		}
		s.ConnectAttempt()
	}

	if !s.connectAttemptsExceeded(defaultMaxReconnectTries) {
		t.Fatal("expected the attempt budget to be exhausted")
	}
}

func TestSessionHeartbeatLatency(t *testing.T) {
	s := newSession()

	if s.Latency() != 0 {
		t.Fatal("expected zero latency before any heartbeat")
	}

	sent := time.Now()
	s.HeartbeatSent(sent)

	if s.Acked() {
		t.Fatal("expected heartbeat to be unacknowledged after sending")
	}

	s.HeartbeatAcked(sent.Add(42 * time.Millisecond))

	if !s.Acked() {
		t.Fatal("expected heartbeat to be acknowledged")
	}
	if got := s.Latency(); got != 42*time.Millisecond {
		t.Fatalf("expected 42ms latency, got %s", got)
	}
}

func TestGatewayAddr(t *testing.T) {
	shard, client := newTestShard(t)

	if got, want := shard.gatewayAddr(), "wss://gateway.discord.gg/?v="+GatewayVersion+"&encoding=json&compress=zlib-stream"; got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}

	// A resume URL wins and its stale query is rewritten.
	shard.session.SetSession("sess", "wss://gateway-us-east1-b.discord.gg")
	if got, want := shard.gatewayAddr(), "wss://gateway-us-east1-b.discord.gg/?v="+GatewayVersion+"&encoding=json&compress=zlib-stream"; got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}

	client.opts.Compress = false
	if got, want := shard.gatewayAddr(), "wss://gateway-us-east1-b.discord.gg/?v="+GatewayVersion+"&encoding=json"; got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestNormalizeResumeURL(t *testing.T) {
	cases := map[string]string{
		"wss://gateway-us-east1-b.discord.gg/?v=9&encoding=etf": "wss://gateway-us-east1-b.discord.gg",
		"wss://gateway-us-east1-b.discord.gg/":                  "wss://gateway-us-east1-b.discord.gg",
		"wss://gateway-us-east1-b.discord.gg":                   "wss://gateway-us-east1-b.discord.gg",
		"":                                                      "",
	}

	for in, want := range cases {
		if got := normalizeResumeURL(in); got != want {
			t.Fatalf("normalizeResumeURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRedactToken(t *testing.T) {
	frame := []byte(`{"op":2,"d":{"token":"Bot abc123"}}`)

	got := redactToken(frame, "Bot abc123")
	if got != `{"op":2,"d":{"token":"[redacted]"}}` {
		t.Fatalf("token survived redaction: %s", got)
	}

	if got = redactToken(frame, ""); got != string(frame) {
		t.Fatal("expected empty token to leave the frame alone")
	}
}

func TestSendBarrierFiresOnce(t *testing.T) {
	var fired int32
	barrier := newSendBarrier(2, func() { atomic.AddInt32(&fired, 1) })

	barrier.arrive()
	if atomic.LoadInt32(&fired) != 0 {
		t.Fatal("barrier fired before all parties arrived")
	}

	barrier.arrive()
	if atomic.LoadInt32(&fired) != 1 {
		t.Fatal("barrier did not fire after the last arrival")
	}
}

func TestConnectRefusedWhileOpen(t *testing.T) {
	shard, client := newTestShard(t)

	shard.mu.Lock()
	shard.conn = &websocket.Conn{}
	shard.mu.Unlock()

	if err := shard.Connect(); err != ErrWSAlreadyOpen {
		t.Fatalf("expected ErrWSAlreadyOpen, got %v", err)
	}

	errs := client.emittedEvents(EventError)
	if len(errs) != 1 {
		t.Fatalf("expected one error event, got %d", len(errs))
	}
	if payload := errs[0].(*ShardError); payload.Err != ErrWSAlreadyOpen {
		t.Fatalf("unexpected error payload: %v", payload.Err)
	}
}

func TestConnectRefusedWhileDialing(t *testing.T) {
	// The slot is reserved before the dial, so a second Connect racing
	// the first is turned away even though no socket exists yet.
	shard, client := newTestShard(t)

	shard.mu.Lock()
	shard.connecting = true
	shard.mu.Unlock()

	if err := shard.Connect(); err != ErrWSAlreadyOpen {
		t.Fatalf("expected ErrWSAlreadyOpen, got %v", err)
	}

	if errs := client.emittedEvents(EventError); len(errs) != 1 {
		t.Fatalf("expected one error event, got %d", len(errs))
	}
}

func TestScheduleReconnectResumableGoesThroughClient(t *testing.T) {
	shard, client := newTestShard(t)

	shard.session.SetSession("sess", "wss://resume.discord.gg")
	shard.session.SetSequence(42)

	shard.scheduleReconnect()

	if client.shardReconnectCount() != 1 {
		t.Fatal("expected a resumable reconnect to go through the client")
	}
}

func TestScheduleReconnectDeadSessionUsesBackoff(t *testing.T) {
	shard, client := newTestShard(t)

	// No session to resume; the backoff loop would dial, so turn off
	// auto reconnect to make it a no-op.
	client.opts.AutoReconnect = false

	shard.scheduleReconnect()

	if client.shardReconnectCount() != 0 {
		t.Fatal("expected a dead session to skip the client reconnect path")
	}
}

func TestRequestGuildMembersNeedsOpenSocket(t *testing.T) {
	shard, _ := newTestShard(t)

	if _, err := shard.RequestGuildMembers(MemberRequest{GuildID: "g", Query: strPtr("x")}); err != ErrWSNotOpen {
		t.Fatalf("expected ErrWSNotOpen, got %v", err)
	}
}

func strPtr(s string) *string { return &s }

func TestRequestGuildMembersValidation(t *testing.T) {
	shard, client := newTestShard(t)

	// All members without the members intent.
	if _, err := shard.RequestGuildMembers(MemberRequest{GuildID: "g"}); err != ErrMissingMembersIntent {
		t.Fatalf("expected ErrMissingMembersIntent, got %v", err)
	}

	// Presences without the presences intent.
	if _, err := shard.RequestGuildMembers(MemberRequest{
		GuildID: "g", Query: strPtr(""), Presences: true,
	}); err != ErrMissingPresencesIntent {
		t.Fatalf("expected ErrMissingPresencesIntent, got %v", err)
	}

	// Too many explicit user IDs.
	ids := make([]string, maxRequestMembersUserIDs+1)
	for i := range ids {
		ids[i] = "user"
	}
	if _, err := shard.RequestGuildMembers(MemberRequest{GuildID: "g", UserIDs: ids}); err != ErrTooManyUserIDs {
		t.Fatalf("expected ErrTooManyUserIDs, got %v", err)
	}

	_ = client
}
