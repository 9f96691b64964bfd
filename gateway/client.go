package gateway

import (
	"errors"
	"fmt"
	"time"

	"github.com/pastaland/gondola/discord"
	"github.com/pastaland/gondola/state"
)

// ErrWSAlreadyOpen is emitted when connect is attempted while a socket
// already exists.
var ErrWSAlreadyOpen = errors.New("gateway: websocket already opened")

// ErrWSNotOpen is returned when a command needs an open socket.
var ErrWSNotOpen = errors.New("gateway: no open websocket connection")

// ErrConnectTimeout is the disconnect reason when the handshake does not
// complete within the connect timeout.
var ErrConnectTimeout = errors.New("gateway: connection timeout")

// ErrHeartbeatTimeout is the disconnect reason when a heartbeat tick
// finds the previous heartbeat unacknowledged.
var ErrHeartbeatTimeout = errors.New("gateway: server didn't acknowledge previous heartbeat, possible zombie connection")

// ErrInvalidToken is the terminal error for close code 4004.
var ErrInvalidToken = errors.New("gateway: invalid token")

// Caller errors from RequestGuildMembers, raised before anything is sent.
var (
	ErrMissingMembersIntent   = errors.New("gateway: requesting all members requires the GUILD_MEMBERS intent")
	ErrMissingPresencesIntent = errors.New("gateway: requesting presences requires the GUILD_PRESENCES intent")
	ErrTooManyUserIDs         = errors.New("gateway: cannot request more than 100 user IDs")
)

// GatewayError carries the numeric close code the server ended the
// connection with.
type GatewayError struct {
	Code    int
	Message string
}

func (e *GatewayError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("gateway: closed with code %d: %s", e.Code, e.Message)
	}

	return fmt.Sprintf("gateway: closed with code %d", e.Code)
}

// Fatal reports whether the close code forbids further reconnects.
func (e *GatewayError) Fatal() bool {
	switch e.Code {
	case CloseAuthenticationFailed,
		CloseInvalidShard,
		CloseShardingRequired,
		CloseInvalidAPIVersion,
		CloseInvalidIntents,
		CloseDisallowedIntents:
		return true
	}

	return false
}

// Options is the shared shard configuration held by the client.
type Options struct {
	Token string

	ShardCount     int
	Intents        discord.Intent
	Compress       bool
	LargeThreshold int

	// GetAllUsers requests every member of every guild after connecting.
	// Requires the GUILD_MEMBERS intent.
	GetAllUsers bool

	AutoReconnect        bool
	MaxReconnectAttempts int

	ConnectTimeout     time.Duration
	GuildCreateTimeout time.Duration

	// RequestTimeout bounds RequestGuildMembers when the caller gives
	// no explicit timeout.
	RequestTimeout time.Duration

	Presence *discord.UpdatePresence
}

// NewOptions returns Options with the package defaults filled in.
func NewOptions(token string) *Options {
	return &Options{
		Token:                token,
		ShardCount:           1,
		Compress:             true,
		LargeThreshold:       defaultLargeThreshold,
		AutoReconnect:        true,
		MaxReconnectAttempts: defaultMaxReconnectTries,
		ConnectTimeout:       defaultConnectTimeout,
		GuildCreateTimeout:   defaultGuildCreateTimeout,
		RequestTimeout:       defaultRequestTimeout,
	}
}

// Client is the capability handle a shard is constructed with. It owns
// configuration, the entity cache and event fan-out; the shard never
// persists anything itself.
type Client interface {
	// Options returns the shared shard options. Shards treat the
	// options as read-only.
	Options() *Options

	// GatewayURL returns the base websocket URL to connect to when no
	// resume URL is held.
	GatewayURL() string

	// State returns the cache aggregates mutated during dispatch.
	State() state.Store

	// Emit delivers a normalized event to consumers. Emission may be
	// synchronous; consumers must not block.
	Emit(event string, data interface{})

	// ShardReady tells the shard manager this shard finished starting.
	ShardReady(shardID int)

	// ShardReconnect asks the shard manager to reconnect the shard
	// immediately (resumable sessions skip the backoff timer).
	ShardReconnect(shardID int)
}

// Emitted event names.
const (
	EventPacket          = "packet"
	EventError           = "error"
	EventWarn            = "warn"
	EventDebug           = "debug"
	EventConnect         = "connect"
	EventDisconnect      = "disconnect"
	EventShardPreReady   = "preReady"
	EventShardReady      = "ready"
	EventShardResume     = "resume"
	EventShardDisconnect = "shardDisconnect"
	EventUnknown         = "unknown"

	EventGuildCreate             = "guildCreate"
	EventGuildUpdate             = "guildUpdate"
	EventGuildDelete             = "guildDelete"
	EventGuildAvailable          = "guildAvailable"
	EventGuildUnavailable        = "guildUnavailable"
	EventGuildBanAdd             = "guildBanAdd"
	EventGuildBanRemove          = "guildBanRemove"
	EventGuildMemberAdd          = "guildMemberAdd"
	EventGuildMemberUpdate       = "guildMemberUpdate"
	EventGuildMemberRemove       = "guildMemberRemove"
	EventGuildMemberChunk        = "guildMemberChunk"
	EventGuildRoleCreate         = "guildRoleCreate"
	EventGuildRoleUpdate         = "guildRoleUpdate"
	EventGuildRoleDelete         = "guildRoleDelete"
	EventGuildEmojisUpdate       = "guildEmojisUpdate"
	EventGuildIntegrationsUpdate = "guildIntegrationsUpdate"

	EventChannelCreate    = "channelCreate"
	EventChannelUpdate    = "channelUpdate"
	EventChannelDelete    = "channelDelete"
	EventChannelPinUpdate = "channelPinUpdate"
	EventThreadCreate     = "threadCreate"
	EventThreadUpdate     = "threadUpdate"
	EventThreadDelete     = "threadDelete"

	EventMessageCreate              = "messageCreate"
	EventMessageUpdate              = "messageUpdate"
	EventMessageDelete              = "messageDelete"
	EventMessageDeleteBulk          = "messageDeleteBulk"
	EventMessageReactionAdd         = "messageReactionAdd"
	EventMessageReactionRemove      = "messageReactionRemove"
	EventMessageReactionRemoveAll   = "messageReactionRemoveAll"
	EventMessageReactionRemoveEmoji = "messageReactionRemoveEmoji"

	EventPresenceUpdate     = "presenceUpdate"
	EventTypingStart        = "typingStart"
	EventUserUpdate         = "userUpdate"
	EventVoiceChannelJoin   = "voiceChannelJoin"
	EventVoiceChannelLeave  = "voiceChannelLeave"
	EventVoiceChannelSwitch = "voiceChannelSwitch"
	EventVoiceStateUpdate   = "voiceStateUpdate"
	EventVoiceServerUpdate  = "voiceServerUpdate"
	EventWebhooksUpdate     = "webhooksUpdate"
)

// PacketEvent is the payload of the raw packet event.
type PacketEvent struct {
	ShardID int     `msgpack:"shard_id"`
	Packet  *Packet `msgpack:"packet"`
}

// ShardError is the payload of the error event.
type ShardError struct {
	ShardID int   `msgpack:"shard_id"`
	Err     error `msgpack:"-"`
}

// ShardNotice is the payload of the warn and debug events.
type ShardNotice struct {
	ShardID int    `msgpack:"shard_id"`
	Message string `msgpack:"message"`
}

// ShardDisconnect is the payload of the shardDisconnect event.
type ShardDisconnect struct {
	ShardID   int   `msgpack:"shard_id"`
	Err       error `msgpack:"-"`
	Reconnect bool  `msgpack:"reconnect"`
}

// GuildStub stands in for a guild that was never cached. Events that
// reference unknown guilds carry a stub so handlers stay total over both
// shapes.
type GuildStub struct {
	ID string `json:"id" msgpack:"id"`
}

// GuildRef is either a cached guild or a stub carrying only the ID.
type GuildRef struct {
	Guild *discord.Guild `msgpack:"guild,omitempty"`
	Stub  *GuildStub     `msgpack:"stub,omitempty"`
}

// CachedGuild wraps a cached guild.
func CachedGuild(guild *discord.Guild) GuildRef {
	return GuildRef{Guild: guild}
}

// StubGuild wraps a bare guild ID.
func StubGuild(id string) GuildRef {
	return GuildRef{Stub: &GuildStub{ID: id}}
}

// ID returns the guild ID common to both shapes.
func (r GuildRef) ID() string {
	if r.Guild != nil {
		return r.Guild.ID
	}
	if r.Stub != nil {
		return r.Stub.ID
	}

	return ""
}

// Cached reports whether the reference points at a cached guild.
func (r GuildRef) Cached() bool { return r.Guild != nil }

// VoiceChannelMove is the payload of the voiceChannelJoin, -Leave and
// -Switch events.
type VoiceChannelMove struct {
	GuildID      string          `msgpack:"guild_id"`
	Member       *discord.Member `msgpack:"member"`
	ChannelID    string          `msgpack:"channel_id,omitempty"`
	OldChannelID string          `msgpack:"old_channel_id,omitempty"`
}

// MemberChunkEvent is the payload of the guildMemberChunk event.
type MemberChunkEvent struct {
	GuildID string            `msgpack:"guild_id"`
	Members []*discord.Member `msgpack:"members"`
	Index   int               `msgpack:"index"`
	Count   int               `msgpack:"count"`
}
