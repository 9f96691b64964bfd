package gateway

import (
	"testing"
	"time"
)

func TestBeatSuppressedDuringHandshake(t *testing.T) {
	shard, _ := newTestShard(t)

	shard.session.SetStatus(StatusIdentifying)
	if !shard.beat() {
		t.Fatal("expected the loop to keep running while identifying")
	}

	shard.session.SetStatus(StatusResuming)
	if !shard.beat() {
		t.Fatal("expected the loop to keep running while resuming")
	}

	if !shard.session.Acked() {
		t.Fatal("expected no heartbeat to be sent during the handshake")
	}
}

func TestBeatStopsWhenDisconnected(t *testing.T) {
	shard, _ := newTestShard(t)

	shard.session.SetStatus(StatusDisconnected)
	if shard.beat() {
		t.Fatal("expected the loop to stop on a disconnected shard")
	}
}

func TestBeatStopsOnMissedAck(t *testing.T) {
	shard, _ := newTestShard(t)

	shard.session.SetStatus(StatusReady)
	shard.session.HeartbeatSent(time.Now())

	if shard.beat() {
		t.Fatal("expected the loop to stop after a missed acknowledgement")
	}
}

func TestSendHeartbeatTracking(t *testing.T) {
	shard, _ := newTestShard(t)
	shard.session.SetStatus(StatusReady)

	shard.sendHeartbeat(true)
	if shard.session.Acked() {
		t.Fatal("expected a tracked heartbeat to await an acknowledgement")
	}

	shard.session.HeartbeatAcked(time.Now())

	// A server requested beat leaves the ack state alone.
	shard.sendHeartbeat(false)
	if !shard.session.Acked() {
		t.Fatal("expected an untracked heartbeat to leave the ack state alone")
	}
}
