package gateway

import (
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/pastaland/gondola/discord"
)

// Shard is a single gateway connection. It owns the websocket, the
// heartbeat goroutine and the send buckets; everything it learns from
// dispatch flows into the client's state store and event stream.
type Shard struct {
	ID     int
	client Client
	log    zerolog.Logger

	session *session
	chunks  *chunkTable

	globalBucket   *Bucket
	presenceBucket *Bucket

	// mu guards conn, codec, connecting and listening. wsMutex
	// serializes frame writes on the socket.
	mu         sync.Mutex
	wsMutex    sync.Mutex
	conn       *websocket.Conn
	codec      *FrameCodec
	connecting bool
	listening  chan interface{}

	connectTimer *time.Timer

	// Startup bookkeeping. Mutated by the dispatch goroutine and the
	// guild create timer.
	startupMu     sync.Mutex
	selfUserID    string
	pendingGuilds map[string]struct{}
	guildTimer    *time.Timer
	becameReady   bool
	chunkQueue    []string
	chunkInFlight bool
}

// NewShard creates a shard bound to a client. The shard does nothing
// until Connect is called.
func NewShard(client Client, shardID int, log zerolog.Logger) *Shard {
	log = log.With().Int("shard", shardID).Logger()

	return &Shard{
		ID:      shardID,
		client:  client,
		log:     log,
		session: newSession(),
		chunks:  newChunkTable(),

		globalBucket:   NewBucket(globalBucketLimit, globalBucketInterval, globalBucketReserved, log),
		presenceBucket: NewBucket(presenceBucketLimit, presenceBucketInterval, 0, log),

		pendingGuilds: make(map[string]struct{}),
	}
}

// Status returns the shard's connection status.
func (s *Shard) Status() Status { return s.session.Status() }

// Latency returns the round trip time of the last acknowledged
// heartbeat.
func (s *Shard) Latency() time.Duration { return s.session.Latency() }

// Application returns the bot application reported by READY, or nil
// before the first session is established.
func (s *Shard) Application() *discord.Application { return s.session.Application() }

// gatewayAddr builds the websocket URL for the next connection. A held
// resume URL wins over the client's base URL; either way the query is
// rewritten from scratch.
func (s *Shard) gatewayAddr() string {
	base := s.session.ResumeURL()
	if base == "" {
		base = s.client.GatewayURL()
	}

	if u, err := url.Parse(base); err == nil {
		u.RawQuery = ""
		u.Fragment = ""
		base = u.String()
	}

	base = strings.TrimSuffix(base, "/")

	codec := JSONCodec{}
	addr := base + "/?v=" + GatewayVersion + "&encoding=" + codec.Name()
	if s.client.Options().Compress {
		addr += "&compress=zlib-stream"
	}

	return addr
}

// Connect opens the gateway websocket and starts listening. At most one
// socket exists per shard; a second Connect while one is open fails with
// ErrWSAlreadyOpen.
func (s *Shard) Connect() error {
	// The socket slot is reserved before the dial so a concurrent
	// Connect cannot slip past the nil check while we are dialing.
	s.mu.Lock()
	if s.conn != nil || s.connecting {
		s.mu.Unlock()
		s.emitError(ErrWSAlreadyOpen)

		return ErrWSAlreadyOpen
	}
	s.connecting = true
	s.mu.Unlock()

	opts := s.client.Options()
	s.session.SetStatus(StatusConnecting)
	s.session.ConnectAttempt()

	addr := s.gatewayAddr()
	s.log.Info().Str("addr", addr).Msg("Connecting to gateway")

	dialer := websocket.Dialer{HandshakeTimeout: opts.ConnectTimeout}

	conn, _, err := dialer.Dial(addr, nil)
	if err != nil {
		s.mu.Lock()
		s.connecting = false
		s.mu.Unlock()

		s.session.SetStatus(StatusDisconnected)

		// A stale resume URL must not wedge the shard forever.
		s.session.SetSession(s.session.SessionID(), "")

		return fmt.Errorf("connecting to gateway: %w", err)
	}

	listening := make(chan interface{})
	codec := NewFrameCodec(JSONCodec{}, opts.Compress)

	s.mu.Lock()
	s.conn = conn
	s.codec = codec
	s.connecting = false
	s.listening = listening

	s.connectTimer = time.AfterFunc(opts.ConnectTimeout, func() {
		if st := s.session.Status(); st != StatusReady && st != StatusDisconnected {
			s.log.Warn().Msg("Handshake did not complete in time")
			s.Disconnect(true, ErrConnectTimeout)
		}
	})
	s.mu.Unlock()

	s.session.SetStatus(StatusHandshaking)
	s.session.MarkAlive()
	s.client.Emit(EventConnect, &ShardNotice{ShardID: s.ID, Message: "connected"})

	go s.listen(conn, codec, listening)

	return nil
}

// listen reads packets until the socket dies or the shard disconnects.
func (s *Shard) listen(conn *websocket.Conn, codec *FrameCodec, listening chan interface{}) {
	var readErr error
	next := func() ([]byte, error) {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			readErr = err
		}

		return frame, err
	}

	for {
		var packet Packet

		err := codec.ReadPacket(next, &packet)
		if err != nil {
			var decodeErr *DecodeError
			if readErr == nil && errors.As(err, &decodeErr) {
				// A malformed payload is dropped; the connection
				// survives.
				s.emitError(decodeErr)

				continue
			}

			select {
			case <-listening:
				// Deliberate teardown; the close frame racing the read
				// is expected.
			default:
				s.onReadError(readErr, err)
			}

			return
		}

		select {
		case <-listening:
			return
		default:
		}

		s.onPacket(&packet)
	}
}

// onReadError maps a dead socket onto the reconnect policy. Server close
// codes decide whether the session survives and whether reconnecting is
// allowed at all.
func (s *Shard) onReadError(readErr, err error) {
	if readErr == nil {
		readErr = err
	}

	reconnect := s.client.Options().AutoReconnect

	var closeErr *websocket.CloseError
	if errors.As(readErr, &closeErr) {
		gwErr := &GatewayError{Code: closeErr.Code, Message: closeErr.Text}

		switch {
		case gwErr.Fatal():
			// Authentication and intent failures repeat forever; give
			// up and surface them.
			s.session.ClearSession()
			reconnect = false

			if closeErr.Code == CloseAuthenticationFailed {
				s.emitError(ErrInvalidToken)
			}

			err = gwErr
		case closeErr.Code == CloseNotAuthenticated:
			s.session.ClearSession()
			err = gwErr
		case closeErr.Code == CloseInvalidSequence:
			// The session is gone server side but the gateway URL is
			// still fine; a fresh identify follows.
			s.session.SetSequence(0)
			err = gwErr
		default:
			err = gwErr
		}
	}

	s.log.Warn().Err(err).Msg("Gateway connection lost")
	s.Disconnect(reconnect, err)
}

// Disconnect tears the connection down. When reconnect is set a
// reconnect loop is started; when the session is resumable the close
// code keeps it alive server side.
func (s *Shard) Disconnect(reconnect bool, reason error) {
	s.mu.Lock()
	conn := s.conn
	codec := s.codec
	if conn == nil {
		s.mu.Unlock()

		return
	}

	s.conn = nil
	s.codec = nil

	close(s.listening)
	s.listening = nil

	if s.connectTimer != nil {
		s.connectTimer.Stop()
		s.connectTimer = nil
	}
	s.mu.Unlock()

	s.session.SetStatus(StatusDisconnected)

	closeCode := websocket.CloseNormalClosure
	if reconnect && s.session.Resumable() {
		// A non-1000 close keeps the session resumable.
		closeCode = closeCodeReconnect
	}

	s.wsMutex.Lock()
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(closeCode, ""),
		time.Now().Add(time.Second),
	)
	s.wsMutex.Unlock()

	_ = conn.Close()
	_ = codec.Close()

	s.resetStartup()

	if !reconnect || !s.session.Resumable() {
		// Pending member requests can never complete now.
		s.chunks.reset()
	}

	s.log.Info().Err(reason).Bool("reconnect", reconnect).Msg("Shard disconnected")
	s.client.Emit(EventShardDisconnect, &ShardDisconnect{ShardID: s.ID, Err: reason, Reconnect: reconnect})
	s.client.Emit(EventDisconnect, &ShardNotice{ShardID: s.ID, Message: "disconnected"})

	if reconnect {
		s.scheduleReconnect()
	}
}

// scheduleReconnect decides how the next connection comes about. A
// resumable session goes straight back through the shard manager; a dead
// one enters the backoff loop.
func (s *Shard) scheduleReconnect() {
	if s.session.Resumable() {
		s.client.ShardReconnect(s.ID)

		return
	}

	go s.Reconnect()
}

// Reconnect retries Connect with jittered exponential backoff until it
// succeeds. Once the attempt budget is exhausted the session is thrown
// away so the next attempt identifies from scratch.
func (s *Shard) Reconnect() {
	opts := s.client.Options()

	for {
		if !opts.AutoReconnect {
			return
		}

		if s.session.connectAttemptsExceeded(opts.MaxReconnectAttempts) {
			s.log.Warn().Msg("Too many failed attempts, dropping session")
			s.session.ClearSession()
		}

		wait := s.session.NextReconnectWait(rand.Float64())
		s.log.Info().Dur("wait", wait).Msg("Waiting before reconnecting")
		time.Sleep(wait)

		err := s.Connect()
		if err == nil || err == ErrWSAlreadyOpen {
			return
		}

		s.log.Warn().Err(err).Msg("Reconnect failed")
	}
}

// onPacket routes one inbound packet.
func (s *Shard) onPacket(packet *Packet) {
	s.client.Emit(EventPacket, &PacketEvent{ShardID: s.ID, Packet: packet})

	switch packet.Op {
	case OpHello:
		s.onHello(packet)
	case OpHeartbeat:
		// The server wants a beat right now. Ack bookkeeping is left
		// alone so a pending ack is not forgotten.
		s.sendHeartbeat(false)
	case OpHeartbeatACK:
		s.session.HeartbeatAcked(time.Now())
	case OpReconnect:
		s.log.Info().Msg("Gateway requested reconnect")
		go s.Disconnect(true, nil)
	case OpInvalidSession:
		s.onInvalidSession(packet)
	case OpDispatch:
		s.onDispatch(packet)
	default:
		s.log.Warn().Int("op", int(packet.Op)).Msg("Unknown gateway opcode")
	}
}

// onHello kicks off the session handshake and the heartbeat loop.
func (s *Shard) onHello(packet *Packet) {
	var hello discord.Hello
	if err := s.codecDecode(packet.Data, &hello); err != nil {
		s.emitError(fmt.Errorf("decoding HELLO: %w", err))

		return
	}

	interval := hello.HeartbeatInterval * time.Millisecond

	if s.session.Resumable() {
		s.session.SetStatus(StatusResuming)
		s.sendResume()
	} else {
		s.session.SetStatus(StatusIdentifying)
		s.sendIdentify()

		// The first beat rides along with identify so the server sees a
		// live connection immediately.
		s.sendHeartbeat(true)
	}

	s.mu.Lock()
	listening := s.listening
	s.mu.Unlock()

	if listening != nil {
		go s.heartbeatLoop(interval, listening)
	}
}

// onInvalidSession re-authenticates on the live socket. d tells us
// whether the session may still be resumed.
func (s *Shard) onInvalidSession(packet *Packet) {
	var resumable bool
	_ = s.codecDecode(packet.Data, &resumable)

	s.log.Warn().Bool("resumable", resumable).Msg("Session was invalidated")

	if !resumable {
		s.session.ClearSession()
	}

	// The gateway asks for a randomized wait before re-authenticating.
	time.Sleep(time.Duration(rand.Intn(4)+1) * time.Second)

	if resumable && s.session.Resumable() {
		s.session.SetStatus(StatusResuming)
		s.sendResume()

		return
	}

	s.session.SetStatus(StatusIdentifying)
	s.sendIdentify()
}

// sendIdentify queues a priority IDENTIFY frame.
func (s *Shard) sendIdentify() {
	opts := s.client.Options()

	identify := discord.Identify{
		Token: opts.Token,
		Properties: &discord.IdentifyProperties{
			OS:      runtime.GOOS,
			Browser: "gondola",
			Device:  "gondola",
		},
		Compress:       false,
		LargeThreshold: opts.LargeThreshold,
		Intents:        opts.Intents,
		Presence:       s.identifyPresence(),
	}

	if opts.ShardCount > 1 {
		identify.Shard = &[2]int{s.ID, opts.ShardCount}
	}

	s.sendOp(OpIdentify, identify, true)
}

func (s *Shard) identifyPresence() *discord.UpdatePresence {
	if p := s.session.Presence(); p != nil {
		return p
	}

	return s.client.Options().Presence
}

// sendResume queues a priority RESUME frame.
func (s *Shard) sendResume() {
	s.sendOp(OpResume, discord.Resume{
		Token:     s.client.Options().Token,
		SessionID: s.session.SessionID(),
		Sequence:  s.session.Sequence(),
	}, true)
}

// sendOp queues a frame behind the global send bucket.
func (s *Shard) sendOp(op GatewayOp, data interface{}, priority bool) {
	s.globalBucket.Queue(func() {
		s.sendNow(op, data)
	}, priority)
}

// sendNow writes a frame on the socket, bypassing the buckets. Writes
// are serialized; a dead socket drops the frame.
func (s *Shard) sendNow(op GatewayOp, data interface{}) {
	s.mu.Lock()
	conn := s.conn
	codec := s.codec
	s.mu.Unlock()

	if conn == nil {
		return
	}

	frame, err := codec.Encode(op, data)
	if err != nil {
		s.emitError(fmt.Errorf("encoding op %d: %w", op, err))

		return
	}

	if e := s.log.Trace(); e.Enabled() {
		e.Str("payload", redactToken(frame, s.client.Options().Token)).Msg("Gateway send")
	}

	messageType := websocket.TextMessage
	if codec.Binary() {
		messageType = websocket.BinaryMessage
	}

	s.wsMutex.Lock()
	err = conn.WriteMessage(messageType, frame)
	s.wsMutex.Unlock()

	if err != nil {
		s.emitError(fmt.Errorf("writing op %d: %w", op, err))
	}
}

// redactToken scrubs the bot token out of a payload before it reaches a
// log line.
func redactToken(frame []byte, token string) string {
	if token == "" {
		return string(frame)
	}

	return strings.ReplaceAll(string(frame), token, "[redacted]")
}

// codecDecode decodes a raw payload with the connection's wire codec.
func (s *Shard) codecDecode(data []byte, v interface{}) error {
	s.mu.Lock()
	codec := s.codec
	s.mu.Unlock()

	if codec == nil {
		return json.Unmarshal(data, v)
	}

	return codec.codec.Decode(data, v)
}

// UpdatePresence replaces the shard's presence. The frame waits for both
// the presence bucket and the global bucket.
func (s *Shard) UpdatePresence(presence *discord.UpdatePresence) error {
	if s.Status() != StatusReady {
		return ErrWSNotOpen
	}

	s.sendUpdatePresence(presence)

	return nil
}

// EditStatus is a convenience wrapper around UpdatePresence.
func (s *Shard) EditStatus(status discord.Status, activity *discord.Activity) error {
	presence := &discord.UpdatePresence{Status: status}
	if activity != nil {
		presence.Activities = []*discord.Activity{activity}
	}

	return s.UpdatePresence(presence)
}

// UpdateVoiceState moves the bot in or out of a voice channel. An empty
// channelID disconnects.
func (s *Shard) UpdateVoiceState(guildID, channelID string, selfMute, selfDeaf bool) error {
	if s.Status() != StatusReady {
		return ErrWSNotOpen
	}

	payload := discord.UpdateVoiceState{
		GuildID:  guildID,
		SelfMute: selfMute,
		SelfDeaf: selfDeaf,
	}
	if channelID != "" {
		payload.ChannelID = &channelID
	}

	s.sendOp(OpVoiceStateUpdate, payload, false)

	return nil
}

// emitError surfaces a non-fatal error to the client.
func (s *Shard) emitError(err error) {
	s.log.Error().Err(err).Msg("Shard error")
	s.client.Emit(EventError, &ShardError{ShardID: s.ID, Err: err})
}

// sendBarrier runs fn once n parties have arrived. Used to make a frame
// wait for more than one rate limit bucket.
type sendBarrier struct {
	remaining int32
	fn        func()
}

func newSendBarrier(n int32, fn func()) *sendBarrier {
	return &sendBarrier{remaining: n, fn: fn}
}

func (b *sendBarrier) arrive() {
	if atomic.AddInt32(&b.remaining, -1) == 0 {
		b.fn()
	}
}
