// Package discord contains the wire structures exchanged with the Discord
// gateway along with the entities tracked by the state cache.
package discord

import (
	"strconv"
	"time"
)

// Timestamp is an ISO8601 encoded datetime as sent on the wire.
type Timestamp string

// Parse converts the timestamp into a time.Time.
func (t Timestamp) Parse() (time.Time, error) {
	return time.Parse(time.RFC3339, string(t))
}

// Status is the online status of a user.
type Status string

// Known user statuses.
const (
	StatusOnline       Status = "online"
	StatusIdle         Status = "idle"
	StatusDoNotDisturb Status = "dnd"
	StatusInvisible    Status = "invisible"
	StatusOffline      Status = "offline"
)

// ChannelType is the type of a Channel.
type ChannelType int

// Known channel types.
const (
	ChannelTypeGuildText ChannelType = iota
	ChannelTypeDM
	ChannelTypeGuildVoice
	ChannelTypeGroupDM
	ChannelTypeGuildCategory
	ChannelTypeGuildNews
	ChannelTypeGuildStore
	_
	_
	_
	ChannelTypeGuildNewsThread
	ChannelTypeGuildPublicThread
	ChannelTypeGuildPrivateThread
	ChannelTypeGuildStageVoice
)

// ActivityType is the type of an Activity.
type ActivityType int

// Known activity types.
const (
	ActivityTypeGame ActivityType = iota
	ActivityTypeStreaming
	ActivityTypeListening
	ActivityTypeWatching
	ActivityTypeCustom
	ActivityTypeCompeting
)

// SnowflakeTimestamp returns the creation time encoded in a snowflake ID.
func SnowflakeTimestamp(id string) (t time.Time, err error) {
	i, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return
	}

	timestamp := (i >> 22) + 1420070400000
	t = time.Unix(0, timestamp*int64(time.Millisecond))

	return
}

// User represents a discord user.
type User struct {
	ID            string `json:"id" msgpack:"id"`
	Username      string `json:"username" msgpack:"username"`
	Discriminator string `json:"discriminator" msgpack:"discriminator"`
	Avatar        string `json:"avatar" msgpack:"avatar"`
	Bot           bool   `json:"bot" msgpack:"bot"`
	System        bool   `json:"system,omitempty" msgpack:"system,omitempty"`
	MFAEnabled    bool   `json:"mfa_enabled,omitempty" msgpack:"mfa_enabled,omitempty"`
	Locale        string `json:"locale,omitempty" msgpack:"locale,omitempty"`
	Flags         int    `json:"flags,omitempty" msgpack:"flags,omitempty"`
	PublicFlags   int    `json:"public_flags,omitempty" msgpack:"public_flags,omitempty"`
}

// Member represents a guild member.
type Member struct {
	// GuildID is not sent on chunked members and is filled in from the
	// enclosing payload before the member reaches the state cache.
	GuildID string `json:"guild_id,omitempty" msgpack:"guild_id,omitempty"`

	User         *User     `json:"user" msgpack:"user"`
	Nick         string    `json:"nick,omitempty" msgpack:"nick,omitempty"`
	Roles        []string  `json:"roles" msgpack:"roles"`
	JoinedAt     Timestamp `json:"joined_at" msgpack:"joined_at"`
	PremiumSince Timestamp `json:"premium_since,omitempty" msgpack:"premium_since,omitempty"`
	Deaf         bool      `json:"deaf" msgpack:"deaf"`
	Mute         bool      `json:"mute" msgpack:"mute"`
	Pending      bool      `json:"pending,omitempty" msgpack:"pending,omitempty"`

	// Presence is attached when member chunks are requested with presences.
	Presence *Presence `json:"presence,omitempty" msgpack:"presence,omitempty"`
}

// Role represents a guild role.
type Role struct {
	ID          string `json:"id" msgpack:"id"`
	Name        string `json:"name" msgpack:"name"`
	Color       int    `json:"color" msgpack:"color"`
	Hoist       bool   `json:"hoist" msgpack:"hoist"`
	Position    int    `json:"position" msgpack:"position"`
	Permissions int64  `json:"permissions,string" msgpack:"permissions"`
	Managed     bool   `json:"managed" msgpack:"managed"`
	Mentionable bool   `json:"mentionable" msgpack:"mentionable"`
}

// Emoji represents a guild emoji.
type Emoji struct {
	ID            string   `json:"id" msgpack:"id"`
	Name          string   `json:"name" msgpack:"name"`
	Roles         []string `json:"roles,omitempty" msgpack:"roles,omitempty"`
	User          *User    `json:"user,omitempty" msgpack:"user,omitempty"`
	RequireColons bool     `json:"require_colons,omitempty" msgpack:"require_colons,omitempty"`
	Managed       bool     `json:"managed,omitempty" msgpack:"managed,omitempty"`
	Animated      bool     `json:"animated,omitempty" msgpack:"animated,omitempty"`
}

// ReactionKey returns the key a reaction on this emoji is stored under.
// Custom emojis are keyed as "name:id", unicode emojis by name alone.
func (e *Emoji) ReactionKey() string {
	if e.ID != "" {
		return e.Name + ":" + e.ID
	}

	return e.Name
}

// Guild represents a discord guild.
type Guild struct {
	ID          string `json:"id" msgpack:"id"`
	Name        string `json:"name" msgpack:"name"`
	Icon        string `json:"icon" msgpack:"icon"`
	Splash      string `json:"splash,omitempty" msgpack:"splash,omitempty"`
	OwnerID     string `json:"owner_id" msgpack:"owner_id"`
	Region      string `json:"region,omitempty" msgpack:"region,omitempty"`
	AfkTimeout  int    `json:"afk_timeout,omitempty" msgpack:"afk_timeout,omitempty"`
	Large       bool   `json:"large,omitempty" msgpack:"large,omitempty"`
	Unavailable bool   `json:"unavailable" msgpack:"unavailable"`

	// JoinedAt and MemberCount are only present on GUILD_CREATE payloads.
	JoinedAt    Timestamp `json:"joined_at,omitempty" msgpack:"joined_at,omitempty"`
	MemberCount int       `json:"member_count,omitempty" msgpack:"member_count,omitempty"`

	Roles       []*Role       `json:"roles,omitempty" msgpack:"roles,omitempty"`
	Emojis      []*Emoji      `json:"emojis,omitempty" msgpack:"emojis,omitempty"`
	Members     []*Member     `json:"members,omitempty" msgpack:"members,omitempty"`
	Channels    []*Channel    `json:"channels,omitempty" msgpack:"channels,omitempty"`
	Threads     []*Channel    `json:"threads,omitempty" msgpack:"threads,omitempty"`
	VoiceStates []*VoiceState `json:"voice_states,omitempty" msgpack:"voice_states,omitempty"`
	Presences   []*Presence   `json:"presences,omitempty" msgpack:"presences,omitempty"`
}

// UnavailableGuild is the stub guild sent in READY and unavailable
// GUILD_DELETE payloads.
type UnavailableGuild struct {
	ID          string `json:"id" msgpack:"id"`
	Unavailable bool   `json:"unavailable" msgpack:"unavailable"`
}

// Channel represents a guild or private channel.
type Channel struct {
	ID               string                 `json:"id" msgpack:"id"`
	GuildID          string                 `json:"guild_id,omitempty" msgpack:"guild_id,omitempty"`
	Name             string                 `json:"name,omitempty" msgpack:"name,omitempty"`
	Topic            string                 `json:"topic,omitempty" msgpack:"topic,omitempty"`
	Type             ChannelType            `json:"type" msgpack:"type"`
	Position         int                    `json:"position,omitempty" msgpack:"position,omitempty"`
	ParentID         string                 `json:"parent_id,omitempty" msgpack:"parent_id,omitempty"`
	LastMessageID    string                 `json:"last_message_id,omitempty" msgpack:"last_message_id,omitempty"`
	LastPinTimestamp Timestamp              `json:"last_pin_timestamp,omitempty" msgpack:"last_pin_timestamp,omitempty"`
	NSFW             bool                   `json:"nsfw,omitempty" msgpack:"nsfw,omitempty"`
	Bitrate          int                    `json:"bitrate,omitempty" msgpack:"bitrate,omitempty"`
	UserLimit        int                    `json:"user_limit,omitempty" msgpack:"user_limit,omitempty"`
	Recipients       []*User                `json:"recipients,omitempty" msgpack:"recipients,omitempty"`
	Overwrites       []*PermissionOverwrite `json:"permission_overwrites,omitempty" msgpack:"permission_overwrites,omitempty"`
	OwnerID          string                 `json:"owner_id,omitempty" msgpack:"owner_id,omitempty"`

	// Messages is state-cache only and never sent on the wire.
	Messages []*Message `json:"-" msgpack:"-"`
}

// IsVoice reports whether members may connect to this channel with voice.
func (c *Channel) IsVoice() bool {
	return c.Type == ChannelTypeGuildVoice || c.Type == ChannelTypeGuildStageVoice
}

// IsThread reports whether the channel is a thread.
func (c *Channel) IsThread() bool {
	switch c.Type {
	case ChannelTypeGuildNewsThread, ChannelTypeGuildPublicThread, ChannelTypeGuildPrivateThread:
		return true
	}

	return false
}

// PermissionOverwrite represents a permission overwrite on a channel.
type PermissionOverwrite struct {
	ID    string `json:"id" msgpack:"id"`
	Type  int    `json:"type" msgpack:"type"`
	Allow int64  `json:"allow,string" msgpack:"allow"`
	Deny  int64  `json:"deny,string" msgpack:"deny"`
}

// Message represents a message sent in a channel.
type Message struct {
	ID              string    `json:"id" msgpack:"id"`
	ChannelID       string    `json:"channel_id" msgpack:"channel_id"`
	GuildID         string    `json:"guild_id,omitempty" msgpack:"guild_id,omitempty"`
	Author          *User     `json:"author,omitempty" msgpack:"author,omitempty"`
	Member          *Member   `json:"member,omitempty" msgpack:"member,omitempty"`
	Content         string    `json:"content" msgpack:"content"`
	Timestamp       Timestamp `json:"timestamp,omitempty" msgpack:"timestamp,omitempty"`
	EditedTimestamp Timestamp `json:"edited_timestamp,omitempty" msgpack:"edited_timestamp,omitempty"`
	TTS             bool      `json:"tts,omitempty" msgpack:"tts,omitempty"`
	Mentions        []*User   `json:"mentions,omitempty" msgpack:"mentions,omitempty"`
	Pinned          bool      `json:"pinned,omitempty" msgpack:"pinned,omitempty"`
	WebhookID       string    `json:"webhook_id,omitempty" msgpack:"webhook_id,omitempty"`

	// Reactions is keyed by Emoji.ReactionKey and maintained by the
	// dispatch path, not by the wire payload.
	Reactions map[string]*Reaction `json:"-" msgpack:"reactions,omitempty"`
}

// Reaction is the per-emoji reaction tally on a cached message.
type Reaction struct {
	Count int  `json:"count" msgpack:"count"`
	Me    bool `json:"me" msgpack:"me"`
}

// Activity represents an activity attached to a presence.
type Activity struct {
	Name string       `json:"name" msgpack:"name"`
	Type ActivityType `json:"type" msgpack:"type"`
	URL  string       `json:"url,omitempty" msgpack:"url,omitempty"`
}

// Presence represents the presence of a guild member.
type Presence struct {
	User       *User       `json:"user" msgpack:"user"`
	GuildID    string      `json:"guild_id,omitempty" msgpack:"guild_id,omitempty"`
	Status     Status      `json:"status" msgpack:"status"`
	Activities []*Activity `json:"activities,omitempty" msgpack:"activities,omitempty"`
	Nick       string      `json:"nick,omitempty" msgpack:"nick,omitempty"`
	Roles      []string    `json:"roles,omitempty" msgpack:"roles,omitempty"`
}

// VoiceState represents the voice state of a guild member.
type VoiceState struct {
	GuildID    string  `json:"guild_id,omitempty" msgpack:"guild_id,omitempty"`
	ChannelID  string  `json:"channel_id" msgpack:"channel_id"`
	UserID     string  `json:"user_id" msgpack:"user_id"`
	Member     *Member `json:"member,omitempty" msgpack:"member,omitempty"`
	SessionID  string  `json:"session_id" msgpack:"session_id"`
	Deaf       bool    `json:"deaf" msgpack:"deaf"`
	Mute       bool    `json:"mute" msgpack:"mute"`
	SelfDeaf   bool    `json:"self_deaf" msgpack:"self_deaf"`
	SelfMute   bool    `json:"self_mute" msgpack:"self_mute"`
	SelfStream bool    `json:"self_stream,omitempty" msgpack:"self_stream,omitempty"`
	SelfVideo  bool    `json:"self_video" msgpack:"self_video"`
	Suppress   bool    `json:"suppress" msgpack:"suppress"`
}

// Application is the partial application object sent in READY.
type Application struct {
	ID    string `json:"id" msgpack:"id"`
	Flags int    `json:"flags" msgpack:"flags"`
}

// GatewayBotResponse is the response from the /gateway/bot endpoint.
type GatewayBotResponse struct {
	URL               string        `json:"url" msgpack:"url"`
	Shards            int           `json:"shards" msgpack:"shards"`
	SessionStartLimit SessionLimits `json:"session_start_limit" msgpack:"session_start_limit"`
}

// SessionLimits contains identify budget information from /gateway/bot.
type SessionLimits struct {
	Total          int `json:"total" msgpack:"total"`
	Remaining      int `json:"remaining" msgpack:"remaining"`
	ResetAfter     int `json:"reset_after" msgpack:"reset_after"`
	MaxConcurrency int `json:"max_concurrency" msgpack:"max_concurrency"`
}
