// Package gondola produces Discord gateway traffic onto a NATS streaming
// channel. A manager owns one shard per gateway connection, a shared
// entity cache and the pipe to consumers.
package gondola

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	jsoniter "github.com/json-iterator/go"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/stan.go"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack"
	"golang.org/x/time/rate"

	"github.com/pastaland/gondola/discord"
	"github.com/pastaland/gondola/gateway"
	"github.com/pastaland/gondola/state"
)

// BufferSize sets a maximum buffer size for the produce channel.
const BufferSize = 2048

// EndpointGatewayBot is the REST endpoint answering with the websocket
// URL and recommended shard count.
const EndpointGatewayBot = "https://discord.com/api/v10/gateway/bot"

// identifySpacing is the minimum gap between IDENTIFY frames across the
// whole fleet.
const identifySpacing = 5500 * time.Millisecond

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// StreamEvent is what consumers receive off the NATS channel.
type StreamEvent struct {
	Identity string      `json:"identity" msgpack:"identity"`
	Type     string      `json:"type" msgpack:"type"`
	Data     interface{} `json:"data" msgpack:"data"`
}

// TooManyRequests is the REST rate limit response body.
type TooManyRequests struct {
	Message    string  `json:"message"`
	RetryAfter float64 `json:"retry_after"`
	Global     bool    `json:"global"`
}

// Manager runs a fleet of shards against one bot token.
type Manager struct {
	config *Config
	log    zerolog.Logger

	opts  *gateway.Options
	store state.Store

	client    *http.Client
	userAgent string

	// identifyLimiter spaces out IDENTIFY frames; the gateway allows
	// one new session every few seconds per bucket.
	identifyLimiter *rate.Limiter

	produceChannel chan *StreamEvent

	redisClient *redis.Client
	natsClient  *nats.Conn
	stanClient  stan.Conn

	mu          sync.RWMutex
	gatewayURL  string
	gatewayResp *discord.GatewayBotResponse
	shards      []*gateway.Shard
}

var _ gateway.Client = (*Manager)(nil)

// NewManager wires a manager from configuration. Nothing connects until
// Open is called.
func NewManager(config *Config, log zerolog.Logger) *Manager {
	opts := gateway.NewOptions(config.Token)
	opts.Intents = config.Intents
	opts.GetAllUsers = config.GetAllUsers

	if config.LargeThreshold > 0 {
		opts.LargeThreshold = config.LargeThreshold
	}
	if !config.Compress {
		opts.Compress = false
	}

	m := &Manager{
		config: config,
		log:    log,

		opts: opts,

		client:    &http.Client{Timeout: 20 * time.Second},
		userAgent: "DiscordBot (https://github.com/pastaland/gondola, v" + gateway.VERSION + ")",

		identifyLimiter: rate.NewLimiter(rate.Every(identifySpacing), 1),
		produceChannel:  make(chan *StreamEvent, BufferSize),
	}

	if config.RedisAddress != "" {
		m.redisClient = redis.NewClient(&redis.Options{
			Addr:     config.RedisAddress,
			Password: config.RedisPassword,
			DB:       config.RedisDatabase,
		})
		m.store = state.NewRedisStore(m.redisClient, config.RedisPrefix)
	} else {
		m.store = state.NewMemoryStore(config.MaxMessages)
	}

	return m
}

// Options implements gateway.Client.
func (m *Manager) Options() *gateway.Options { return m.opts }

// State implements gateway.Client.
func (m *Manager) State() state.Store { return m.store }

// GatewayURL implements gateway.Client.
func (m *Manager) GatewayURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.gatewayURL
}

// Shard returns the shard with the given ID, or nil.
func (m *Manager) Shard(shardID int) *gateway.Shard {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if shardID < 0 || shardID >= len(m.shards) {
		return nil
	}

	return m.shards[shardID]
}

// ShardCount returns the number of shards the manager runs.
func (m *Manager) ShardCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.shards)
}

// Emit implements gateway.Client. Events survive the ignore list, then
// the producer blacklist, then go to the produce channel. A full channel
// drops the event rather than stalling dispatch.
func (m *Manager) Emit(event string, data interface{}) {
	if err, ok := data.(*gateway.ShardError); ok {
		m.log.Error().Err(err.Err).Int("shard", err.ShardID).Msg("Shard reported an error")
	}

	if belongsToList(m.config.IgnoredEvents, event) {
		return
	}

	// Raw packets are for local consumers; they never leave the process.
	if event == gateway.EventPacket || event == gateway.EventDebug {
		return
	}

	if belongsToList(m.config.ProducerBlacklist, event) {
		m.log.Debug().Str("type", event).Msg("Event blacklisted from producing")

		return
	}

	if m.config.NatsAddress == "" {
		return
	}

	select {
	case m.produceChannel <- &StreamEvent{Identity: m.config.Identity, Type: event, Data: data}:
	default:
		m.log.Warn().Str("type", event).Msg("Produce channel full, dropping event")
	}
}

// ShardReady implements gateway.Client.
func (m *Manager) ShardReady(shardID int) {
	m.log.Info().Int("shard", shardID).Msg("Shard is ready")
}

// ShardReconnect implements gateway.Client.
func (m *Manager) ShardReconnect(shardID int) {
	shard := m.Shard(shardID)
	if shard == nil {
		return
	}

	go func() {
		if shard.Status() == gateway.StatusDisconnected {
			if err := shard.Connect(); err != nil {
				m.log.Error().Err(err).Int("shard", shardID).Msg("Immediate reconnect failed")
				shard.Reconnect()
			}

			return
		}

		shard.Disconnect(true, nil)
	}()
}

// Open fetches gateway information, creates the shards and connects them
// one by one under the identify limiter.
func (m *Manager) Open() error {
	if m.config.ClearCache {
		if store, ok := m.store.(*state.RedisStore); ok {
			if err := store.Clear(); err != nil {
				m.log.Error().Err(err).Msg("Failed to clear cache")
			}
		}
	}

	resp, err := m.Gateway()
	if err != nil {
		return err
	}

	shardCount := m.config.ShardCount
	if m.config.Autoshard || shardCount < resp.Shards {
		shardCount = resp.Shards
	}
	if shardCount < 1 {
		shardCount = 1
	}

	if shardCount > resp.SessionStartLimit.Remaining {
		return fmt.Errorf("not enough sessions remaining: need %d, have %d",
			shardCount, resp.SessionStartLimit.Remaining)
	}

	m.log.Info().
		Str("gateway", resp.URL).
		Int("shards", shardCount).
		Int("remaining", resp.SessionStartLimit.Remaining).
		Bool("autosharded", m.config.Autoshard).
		Msg("Creating shards")

	m.opts.ShardCount = shardCount

	shards := make([]*gateway.Shard, shardCount)
	for shardID := 0; shardID < shardCount; shardID++ {
		shards[shardID] = gateway.NewShard(m, shardID, m.log)
	}

	m.mu.Lock()
	m.gatewayURL = resp.URL
	m.gatewayResp = resp
	m.shards = shards
	m.mu.Unlock()

	if m.config.NatsAddress != "" {
		if err = m.connectProducer(); err != nil {
			return err
		}

		go m.forwardProduce()
	}

	for shardID, shard := range shards {
		if err = m.identifyLimiter.Wait(context.Background()); err != nil {
			return err
		}

		m.log.Info().Int("shard", shardID).Msg("Starting shard")
		if err = shard.Connect(); err != nil {
			return err
		}
	}

	return nil
}

// Gateway asks the REST API for the websocket URL and session budget.
func (m *Manager) Gateway() (*discord.GatewayBotResponse, error) {
	req, err := http.NewRequest(http.MethodGet, EndpointGatewayBot, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", "Bot "+m.config.Token)
	req.Header.Set("User-Agent", m.userAgent)

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		rl := TooManyRequests{}
		if err = json.Unmarshal(body, &rl); err != nil {
			return nil, err
		}

		m.log.Warn().Float64("retry_after", rl.RetryAfter).Msg("Gateway request was ratelimited")
		time.Sleep(time.Duration(rl.RetryAfter * float64(time.Second)))

		return m.Gateway()
	case http.StatusUnauthorized:
		return nil, gateway.ErrInvalidToken
	}

	gr := &discord.GatewayBotResponse{}
	if err = json.Unmarshal(body, gr); err != nil {
		return nil, err
	}

	return gr, nil
}

// connectProducer dials NATS and the streaming cluster.
func (m *Manager) connectProducer() error {
	natsClient, err := nats.Connect(m.config.NatsAddress)
	if err != nil {
		return fmt.Errorf("connecting to nats: %w", err)
	}

	stanClient, err := stan.Connect(m.config.ClusterID, m.config.ClientID, stan.NatsConn(natsClient))
	if err != nil {
		natsClient.Close()

		return fmt.Errorf("connecting to stan: %w", err)
	}

	m.natsClient = natsClient
	m.stanClient = stanClient

	return nil
}

// forwardProduce publishes stream events until the produce channel is
// closed.
func (m *Manager) forwardProduce() {
	for event := range m.produceChannel {
		body, err := msgpack.Marshal(event)
		if err != nil {
			m.log.Warn().Err(err).Msg("Failed to marshal stream event")

			continue
		}

		if err = m.stanClient.Publish(m.config.NatsChannel, body); err != nil {
			m.log.Warn().Err(err).Msg("Failed to publish stream event")
		}
	}
}

// Close gracefully disconnects shards and flushes produced events.
func (m *Manager) Close() {
	m.log.Info().Msg("Closing shards")

	m.mu.RLock()
	shards := m.shards
	m.mu.RUnlock()

	for _, shard := range shards {
		shard.Disconnect(false, nil)
	}

	deadline := time.Now().Add(10 * time.Second)
	for len(m.produceChannel) > 0 && time.Now().Before(deadline) {
		m.log.Info().Int("pending", len(m.produceChannel)).Msg("Waiting for produce channel")
		time.Sleep(time.Second)
	}

	close(m.produceChannel)

	if m.stanClient != nil {
		_ = m.stanClient.Close()
	}
	if m.natsClient != nil {
		m.natsClient.Close()
	}
	if m.redisClient != nil {
		_ = m.redisClient.Close()
	}
}
