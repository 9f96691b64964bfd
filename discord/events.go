package discord

import "time"

// Hello is the payload of the HELLO packet.
type Hello struct {
	HeartbeatInterval time.Duration `json:"heartbeat_interval" msgpack:"heartbeat_interval"`
}

// IdentifyProperties are the connection properties sent with IDENTIFY.
type IdentifyProperties struct {
	OS      string `json:"os" msgpack:"os"`
	Browser string `json:"browser" msgpack:"browser"`
	Device  string `json:"device" msgpack:"device"`
}

// Identify is the payload sent to create a new session.
type Identify struct {
	Token          string              `json:"token" msgpack:"token"`
	Properties     *IdentifyProperties `json:"properties" msgpack:"properties"`
	Compress       bool                `json:"compress,omitempty" msgpack:"compress,omitempty"`
	LargeThreshold int                 `json:"large_threshold,omitempty" msgpack:"large_threshold,omitempty"`
	Shard          *[2]int             `json:"shard,omitempty" msgpack:"shard,omitempty"`
	Presence       *UpdatePresence     `json:"presence,omitempty" msgpack:"presence,omitempty"`
	Intents        Intent              `json:"intents" msgpack:"intents"`
}

// Resume is the payload sent to resume an existing session.
type Resume struct {
	Token     string `json:"token" msgpack:"token"`
	SessionID string `json:"session_id" msgpack:"session_id"`
	Sequence  int64  `json:"seq" msgpack:"seq"`
}

// UpdatePresence is the payload of the PRESENCE_UPDATE command.
type UpdatePresence struct {
	Since      *int        `json:"since" msgpack:"since"`
	Activities []*Activity `json:"activities" msgpack:"activities"`
	Status     Status      `json:"status" msgpack:"status"`
	AFK        bool        `json:"afk" msgpack:"afk"`
}

// UpdateVoiceState is the payload of the VOICE_STATE_UPDATE command.
type UpdateVoiceState struct {
	GuildID   string  `json:"guild_id" msgpack:"guild_id"`
	ChannelID *string `json:"channel_id" msgpack:"channel_id"`
	SelfMute  bool    `json:"self_mute" msgpack:"self_mute"`
	SelfDeaf  bool    `json:"self_deaf" msgpack:"self_deaf"`
}

// RequestGuildMembers is the payload of the REQUEST_GUILD_MEMBERS command.
type RequestGuildMembers struct {
	GuildID   string   `json:"guild_id" msgpack:"guild_id"`
	Query     *string  `json:"query,omitempty" msgpack:"query,omitempty"`
	Limit     int      `json:"limit" msgpack:"limit"`
	Presences bool     `json:"presences,omitempty" msgpack:"presences,omitempty"`
	UserIDs   []string `json:"user_ids,omitempty" msgpack:"user_ids,omitempty"`
	Nonce     string   `json:"nonce,omitempty" msgpack:"nonce,omitempty"`
}

// Ready is the payload of the READY dispatch.
type Ready struct {
	Version          int                 `json:"v" msgpack:"v"`
	User             *User               `json:"user" msgpack:"user"`
	Guilds           []*UnavailableGuild `json:"guilds" msgpack:"guilds"`
	SessionID        string              `json:"session_id" msgpack:"session_id"`
	ResumeGatewayURL string              `json:"resume_gateway_url" msgpack:"resume_gateway_url"`
	Shard            *[2]int             `json:"shard,omitempty" msgpack:"shard,omitempty"`
	Application      *Application        `json:"application,omitempty" msgpack:"application,omitempty"`
}

// GuildMembersChunk is the payload of the GUILD_MEMBERS_CHUNK dispatch.
type GuildMembersChunk struct {
	GuildID    string      `json:"guild_id" msgpack:"guild_id"`
	Members    []*Member   `json:"members" msgpack:"members"`
	ChunkIndex int         `json:"chunk_index" msgpack:"chunk_index"`
	ChunkCount int         `json:"chunk_count" msgpack:"chunk_count"`
	NotFound   []string    `json:"not_found,omitempty" msgpack:"not_found,omitempty"`
	Presences  []*Presence `json:"presences,omitempty" msgpack:"presences,omitempty"`
	Nonce      string      `json:"nonce,omitempty" msgpack:"nonce,omitempty"`
}

// GuildBan is the payload of GUILD_BAN_ADD and GUILD_BAN_REMOVE dispatches.
type GuildBan struct {
	GuildID string `json:"guild_id" msgpack:"guild_id"`
	User    *User  `json:"user" msgpack:"user"`
}

// GuildRoleEvent is the payload of GUILD_ROLE_CREATE and GUILD_ROLE_UPDATE.
type GuildRoleEvent struct {
	GuildID string `json:"guild_id" msgpack:"guild_id"`
	Role    *Role  `json:"role" msgpack:"role"`
}

// GuildRoleDelete is the payload of the GUILD_ROLE_DELETE dispatch.
type GuildRoleDelete struct {
	GuildID string `json:"guild_id" msgpack:"guild_id"`
	RoleID  string `json:"role_id" msgpack:"role_id"`
}

// GuildEmojisUpdate is the payload of the GUILD_EMOJIS_UPDATE dispatch.
type GuildEmojisUpdate struct {
	GuildID string   `json:"guild_id" msgpack:"guild_id"`
	Emojis  []*Emoji `json:"emojis" msgpack:"emojis"`
}

// GuildMemberRemove is the payload of the GUILD_MEMBER_REMOVE dispatch.
type GuildMemberRemove struct {
	GuildID string `json:"guild_id" msgpack:"guild_id"`
	User    *User  `json:"user" msgpack:"user"`
}

// GuildIntegrationsUpdate is the payload of GUILD_INTEGRATIONS_UPDATE.
type GuildIntegrationsUpdate struct {
	GuildID string `json:"guild_id" msgpack:"guild_id"`
}

// ChannelPinsUpdate is the payload of the CHANNEL_PINS_UPDATE dispatch.
type ChannelPinsUpdate struct {
	GuildID          string    `json:"guild_id,omitempty" msgpack:"guild_id,omitempty"`
	ChannelID        string    `json:"channel_id" msgpack:"channel_id"`
	LastPinTimestamp Timestamp `json:"last_pin_timestamp,omitempty" msgpack:"last_pin_timestamp,omitempty"`
}

// MessageDelete is the payload of the MESSAGE_DELETE dispatch.
type MessageDelete struct {
	ID        string `json:"id" msgpack:"id"`
	ChannelID string `json:"channel_id" msgpack:"channel_id"`
	GuildID   string `json:"guild_id,omitempty" msgpack:"guild_id,omitempty"`
}

// MessageDeleteBulk is the payload of the MESSAGE_DELETE_BULK dispatch.
type MessageDeleteBulk struct {
	IDs       []string `json:"ids" msgpack:"ids"`
	ChannelID string   `json:"channel_id" msgpack:"channel_id"`
	GuildID   string   `json:"guild_id,omitempty" msgpack:"guild_id,omitempty"`
}

// MessageReaction is the payload of the MESSAGE_REACTION_ADD and
// MESSAGE_REACTION_REMOVE dispatches.
type MessageReaction struct {
	UserID    string  `json:"user_id" msgpack:"user_id"`
	ChannelID string  `json:"channel_id" msgpack:"channel_id"`
	MessageID string  `json:"message_id" msgpack:"message_id"`
	GuildID   string  `json:"guild_id,omitempty" msgpack:"guild_id,omitempty"`
	Member    *Member `json:"member,omitempty" msgpack:"member,omitempty"`
	Emoji     *Emoji  `json:"emoji" msgpack:"emoji"`
}

// MessageReactionRemoveAll is the payload of MESSAGE_REACTION_REMOVE_ALL.
type MessageReactionRemoveAll struct {
	ChannelID string `json:"channel_id" msgpack:"channel_id"`
	MessageID string `json:"message_id" msgpack:"message_id"`
	GuildID   string `json:"guild_id,omitempty" msgpack:"guild_id,omitempty"`
}

// MessageReactionRemoveEmoji is the payload of MESSAGE_REACTION_REMOVE_EMOJI.
type MessageReactionRemoveEmoji struct {
	ChannelID string `json:"channel_id" msgpack:"channel_id"`
	MessageID string `json:"message_id" msgpack:"message_id"`
	GuildID   string `json:"guild_id,omitempty" msgpack:"guild_id,omitempty"`
	Emoji     *Emoji `json:"emoji" msgpack:"emoji"`
}

// TypingStart is the payload of the TYPING_START dispatch.
type TypingStart struct {
	ChannelID string  `json:"channel_id" msgpack:"channel_id"`
	GuildID   string  `json:"guild_id,omitempty" msgpack:"guild_id,omitempty"`
	UserID    string  `json:"user_id" msgpack:"user_id"`
	Timestamp int64   `json:"timestamp" msgpack:"timestamp"`
	Member    *Member `json:"member,omitempty" msgpack:"member,omitempty"`
}

// VoiceServerUpdate is the payload of the VOICE_SERVER_UPDATE dispatch.
type VoiceServerUpdate struct {
	Token    string `json:"token" msgpack:"token"`
	GuildID  string `json:"guild_id" msgpack:"guild_id"`
	Endpoint string `json:"endpoint" msgpack:"endpoint"`
}

// WebhooksUpdate is the payload of the WEBHOOKS_UPDATE dispatch.
type WebhooksUpdate struct {
	GuildID   string `json:"guild_id" msgpack:"guild_id"`
	ChannelID string `json:"channel_id" msgpack:"channel_id"`
}
