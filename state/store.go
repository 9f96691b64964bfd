// Package state tracks the entities observed on the gateway: guilds,
// channels, users, members, messages and voice states, along with the
// bookkeeping maps shards need to route events.
package state

import (
	"errors"

	"github.com/pastaland/gondola/discord"
)

// ErrNotFound is returned when the requested entity is not cached.
var ErrNotFound = errors.New("state: entity not found")

// Store is the cache surface mutated by shards while dispatching.
// Collaborators must treat the store as owned by the dispatching shard.
type Store interface {
	GuildAdd(guild *discord.Guild) error
	GuildRemove(guildID string) error
	Guild(guildID string) (*discord.Guild, error)

	ChannelAdd(channel *discord.Channel) error
	ChannelRemove(channelID string) error
	Channel(channelID string) (*discord.Channel, error)

	UserAdd(user *discord.User) error
	User(userID string) (*discord.User, error)

	MemberAdd(member *discord.Member) error
	MemberRemove(guildID, userID string) error
	Member(guildID, userID string) (*discord.Member, error)

	RoleAdd(guildID string, role *discord.Role) error
	RoleRemove(guildID, roleID string) error

	EmojisSet(guildID string, emojis []*discord.Emoji) error

	MessageAdd(message *discord.Message) error
	MessageRemove(channelID, messageID string) error
	Message(channelID, messageID string) (*discord.Message, error)

	VoiceStateAdd(voiceState *discord.VoiceState) error
	VoiceStateRemove(guildID, userID string) error
	VoiceState(guildID, userID string) (*discord.VoiceState, error)

	// Unavailable guilds differentiate outages from joins and leaves.
	UnavailableAdd(guildID string)
	UnavailableRemove(guildID string)
	IsUnavailable(guildID string) bool

	// Routing maps.
	GuildShardSet(guildID string, shardID int)
	GuildShardRemove(guildID string)
	GuildShard(guildID string) (int, bool)

	ChannelGuildSet(channelID, guildID string)
	ChannelGuildRemove(channelID string)
	ChannelGuild(channelID string) (string, bool)

	ThreadGuildSet(threadID, guildID string)
	ThreadGuildRemove(threadID string)
	ThreadGuild(threadID string) (string, bool)
}
