package gateway

import (
	"math/rand"
	"time"

	"github.com/pastaland/gondola/discord"
)

// heartbeatLoop sends a heartbeat every interval for as long as the
// connection it was started for is alive. The first beat is delayed by a
// random fraction of the interval so a fleet of shards does not beat in
// lockstep.
func (s *Shard) heartbeatLoop(interval time.Duration, listening <-chan interface{}) {
	s.log.Debug().Dur("interval", interval).Msg("Started heartbeating")

	first := time.NewTimer(time.Duration(rand.Float64() * float64(interval)))
	defer first.Stop()

	select {
	case <-first.C:
	case <-listening:
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if !s.beat() {
			return
		}

		select {
		case <-ticker.C:
		case <-listening:
			return
		}
	}
}

// beat sends one heartbeat, or tears the connection down when the
// previous one was never acknowledged. Returns false when the loop
// should stop.
func (s *Shard) beat() bool {
	switch s.session.Status() {
	case StatusIdentifying, StatusResuming:
		// The session handshake is still in flight; heartbeating waits
		// for READY or RESUMED.
		return true
	case StatusDisconnected:
		return false
	}

	if !s.session.Acked() {
		s.log.Warn().Msg("Previous heartbeat was not acknowledged, reconnecting")
		go s.Disconnect(true, ErrHeartbeatTimeout)

		return false
	}

	s.sendHeartbeat(true)

	return true
}

// sendHeartbeat queues a priority heartbeat frame. When track is set the
// beat participates in ack bookkeeping; server requested beats (op 1)
// leave the ack state alone.
func (s *Shard) sendHeartbeat(track bool) {
	seq := s.session.Sequence()

	if track {
		s.session.HeartbeatSent(time.Now())
	}

	s.sendOp(OpHeartbeat, seq, true)
}

// sendUpdatePresence queues a presence frame behind both the presence
// bucket and the global bucket. The frame is only written once both
// buckets have granted a slot.
func (s *Shard) sendUpdatePresence(presence *discord.UpdatePresence) {
	s.session.SetPresence(presence)

	barrier := newSendBarrier(2, func() {
		s.sendNow(OpPresenceUpdate, presence)
	})

	s.presenceBucket.Queue(barrier.arrive, false)
	s.globalBucket.Queue(barrier.arrive, false)
}
