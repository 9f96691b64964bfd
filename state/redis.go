package state

import (
	"context"
	"sync"

	"github.com/go-redis/redis/v8"
	jsoniter "github.com/json-iterator/go"

	"github.com/pastaland/gondola/discord"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// RedisStore keeps entities in redis hashes so consumers on other
// processes can read the cache. Routing maps and unavailable markers stay
// in process memory; they are meaningless outside the owning producer.
type RedisStore struct {
	client *redis.Client
	prefix string
	ctx    context.Context

	mu           sync.RWMutex
	unavailable  map[string]struct{}
	guildShards  map[string]int
	channelGuild map[string]string
	threadGuild  map[string]string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a store on top of an existing redis client.
// Keys are prepended with prefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{
		client:       client,
		prefix:       prefix,
		ctx:          context.Background(),
		unavailable:  make(map[string]struct{}),
		guildShards:  make(map[string]int),
		channelGuild: make(map[string]string),
		threadGuild:  make(map[string]string),
	}
}

// Clear removes every key under the store prefix.
func (s *RedisStore) Clear() error {
	iter := s.client.Scan(s.ctx, 0, s.prefix+":*", 0).Iterator()

	var keys []string
	for iter.Next(s.ctx) {
		keys = append(keys, iter.Val())
	}

	if err := iter.Err(); err != nil {
		return err
	}

	if len(keys) == 0 {
		return nil
	}

	return s.client.Del(s.ctx, keys...).Err()
}

func (s *RedisStore) key(parts ...string) string {
	key := s.prefix
	for _, part := range parts {
		key += ":" + part
	}

	return key
}

func (s *RedisStore) hset(key, field string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	return s.client.HSet(s.ctx, key, field, data).Err()
}

func (s *RedisStore) hget(key, field string, out interface{}) error {
	val, err := s.client.HGet(s.ctx, key, field).Result()
	if err == redis.Nil {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	return json.Unmarshal([]byte(val), out)
}

func (s *RedisStore) hdel(key, field string) error {
	removed, err := s.client.HDel(s.ctx, key, field).Result()
	if err != nil {
		return err
	}

	if removed == 0 {
		return ErrNotFound
	}

	return nil
}

// GuildAdd adds a guild and its channels to redis.
func (s *RedisStore) GuildAdd(guild *discord.Guild) error {
	for _, channel := range guild.Channels {
		channel.GuildID = guild.ID

		if err := s.hset(s.key("channels"), channel.ID, channel); err != nil {
			return err
		}
	}

	for _, member := range guild.Members {
		member.GuildID = guild.ID

		if err := s.MemberAdd(member); err != nil {
			return err
		}
	}

	return s.hset(s.key("guilds"), guild.ID, guild)
}

// GuildRemove removes a guild from redis.
func (s *RedisStore) GuildRemove(guildID string) error {
	guild, err := s.Guild(guildID)
	if err != nil {
		return err
	}

	for _, channel := range guild.Channels {
		s.hdel(s.key("channels"), channel.ID) // nolint:errcheck
	}

	s.client.Del(s.ctx, s.key("guild", guildID, "members")) // nolint:errcheck
	s.client.Del(s.ctx, s.key("guild", guildID, "voice"))   // nolint:errcheck

	return s.hdel(s.key("guilds"), guildID)
}

// Guild gets a guild by ID.
func (s *RedisStore) Guild(guildID string) (*discord.Guild, error) {
	guild := &discord.Guild{}
	if err := s.hget(s.key("guilds"), guildID, guild); err != nil {
		return nil, err
	}

	return guild, nil
}

// ChannelAdd adds a channel to redis and to its cached guild.
func (s *RedisStore) ChannelAdd(channel *discord.Channel) error {
	if guild, err := s.Guild(channel.GuildID); err == nil {
		replaced := false

		for i, c := range guild.Channels {
			if c.ID == channel.ID {
				guild.Channels[i] = channel
				replaced = true

				break
			}
		}

		if !replaced {
			guild.Channels = append(guild.Channels, channel)
		}

		if err := s.hset(s.key("guilds"), guild.ID, guild); err != nil {
			return err
		}
	}

	return s.hset(s.key("channels"), channel.ID, channel)
}

// ChannelRemove removes a channel from redis and from its cached guild.
func (s *RedisStore) ChannelRemove(channelID string) error {
	channel, err := s.Channel(channelID)
	if err != nil {
		return err
	}

	if guild, err := s.Guild(channel.GuildID); err == nil {
		for i, c := range guild.Channels {
			if c.ID == channelID {
				guild.Channels = append(guild.Channels[:i], guild.Channels[i+1:]...)

				break
			}
		}

		if err := s.hset(s.key("guilds"), guild.ID, guild); err != nil {
			return err
		}
	}

	return s.hdel(s.key("channels"), channelID)
}

// Channel gets a channel by ID.
func (s *RedisStore) Channel(channelID string) (*discord.Channel, error) {
	channel := &discord.Channel{}
	if err := s.hget(s.key("channels"), channelID, channel); err != nil {
		return nil, err
	}

	return channel, nil
}

// UserAdd adds a user to redis.
func (s *RedisStore) UserAdd(user *discord.User) error {
	return s.hset(s.key("users"), user.ID, user)
}

// User gets a user by ID.
func (s *RedisStore) User(userID string) (*discord.User, error) {
	user := &discord.User{}
	if err := s.hget(s.key("users"), userID, user); err != nil {
		return nil, err
	}

	return user, nil
}

// MemberAdd adds a member to its guild hash.
func (s *RedisStore) MemberAdd(member *discord.Member) error {
	if member.User == nil {
		return ErrNotFound
	}

	old := &discord.Member{}
	if err := s.hget(s.key("guild", member.GuildID, "members"), member.User.ID, old); err == nil {
		if member.JoinedAt == "" {
			member.JoinedAt = old.JoinedAt
		}
	}

	if err := s.UserAdd(member.User); err != nil {
		return err
	}

	return s.hset(s.key("guild", member.GuildID, "members"), member.User.ID, member)
}

// MemberRemove removes a member from its guild hash.
func (s *RedisStore) MemberRemove(guildID, userID string) error {
	return s.hdel(s.key("guild", guildID, "members"), userID)
}

// Member gets a member by guild and user ID.
func (s *RedisStore) Member(guildID, userID string) (*discord.Member, error) {
	member := &discord.Member{}
	if err := s.hget(s.key("guild", guildID, "members"), userID, member); err != nil {
		return nil, err
	}

	return member, nil
}

// RoleAdd adds a role to a cached guild.
func (s *RedisStore) RoleAdd(guildID string, role *discord.Role) error {
	guild, err := s.Guild(guildID)
	if err != nil {
		return err
	}

	replaced := false

	for i, r := range guild.Roles {
		if r.ID == role.ID {
			guild.Roles[i] = role
			replaced = true

			break
		}
	}

	if !replaced {
		guild.Roles = append(guild.Roles, role)
	}

	return s.hset(s.key("guilds"), guildID, guild)
}

// RoleRemove removes a role from a cached guild.
func (s *RedisStore) RoleRemove(guildID, roleID string) error {
	guild, err := s.Guild(guildID)
	if err != nil {
		return err
	}

	for i, r := range guild.Roles {
		if r.ID == roleID {
			guild.Roles = append(guild.Roles[:i], guild.Roles[i+1:]...)

			return s.hset(s.key("guilds"), guildID, guild)
		}
	}

	return ErrNotFound
}

// EmojisSet replaces the emoji list of a cached guild.
func (s *RedisStore) EmojisSet(guildID string, emojis []*discord.Emoji) error {
	guild, err := s.Guild(guildID)
	if err != nil {
		return err
	}

	guild.Emojis = emojis

	return s.hset(s.key("guilds"), guildID, guild)
}

// MessageAdd stores a message in its channel hash.
func (s *RedisStore) MessageAdd(message *discord.Message) error {
	return s.hset(s.key("channel", message.ChannelID, "messages"), message.ID, message)
}

// MessageRemove removes a message from its channel hash.
func (s *RedisStore) MessageRemove(channelID, messageID string) error {
	return s.hdel(s.key("channel", channelID, "messages"), messageID)
}

// Message gets a message by channel and message ID.
func (s *RedisStore) Message(channelID, messageID string) (*discord.Message, error) {
	message := &discord.Message{}
	if err := s.hget(s.key("channel", channelID, "messages"), messageID, message); err != nil {
		return nil, err
	}

	return message, nil
}

// VoiceStateAdd adds a voice state to its guild hash.
func (s *RedisStore) VoiceStateAdd(voiceState *discord.VoiceState) error {
	return s.hset(s.key("guild", voiceState.GuildID, "voice"), voiceState.UserID, voiceState)
}

// VoiceStateRemove removes a voice state from its guild hash.
func (s *RedisStore) VoiceStateRemove(guildID, userID string) error {
	return s.hdel(s.key("guild", guildID, "voice"), userID)
}

// VoiceState gets a voice state by guild and user ID.
func (s *RedisStore) VoiceState(guildID, userID string) (*discord.VoiceState, error) {
	voiceState := &discord.VoiceState{}
	if err := s.hget(s.key("guild", guildID, "voice"), userID, voiceState); err != nil {
		return nil, err
	}

	return voiceState, nil
}

// UnavailableAdd marks a guild as unavailable.
func (s *RedisStore) UnavailableAdd(guildID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.unavailable[guildID] = struct{}{}
}

// UnavailableRemove clears the unavailable marker for a guild.
func (s *RedisStore) UnavailableRemove(guildID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.unavailable, guildID)
}

// IsUnavailable reports whether a guild is currently marked unavailable.
func (s *RedisStore) IsUnavailable(guildID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.unavailable[guildID]

	return ok
}

// GuildShardSet records which shard owns a guild.
func (s *RedisStore) GuildShardSet(guildID string, shardID int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.guildShards[guildID] = shardID
}

// GuildShardRemove removes the shard mapping for a guild.
func (s *RedisStore) GuildShardRemove(guildID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.guildShards, guildID)
}

// GuildShard returns the shard that owns a guild.
func (s *RedisStore) GuildShard(guildID string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shardID, ok := s.guildShards[guildID]

	return shardID, ok
}

// ChannelGuildSet records which guild a channel belongs to.
func (s *RedisStore) ChannelGuildSet(channelID, guildID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.channelGuild[channelID] = guildID
}

// ChannelGuildRemove removes the guild mapping for a channel.
func (s *RedisStore) ChannelGuildRemove(channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.channelGuild, channelID)
}

// ChannelGuild returns the guild a channel belongs to.
func (s *RedisStore) ChannelGuild(channelID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	guildID, ok := s.channelGuild[channelID]

	return guildID, ok
}

// ThreadGuildSet records which guild a thread belongs to.
func (s *RedisStore) ThreadGuildSet(threadID, guildID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.threadGuild[threadID] = guildID
}

// ThreadGuildRemove removes the guild mapping for a thread.
func (s *RedisStore) ThreadGuildRemove(threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.threadGuild, threadID)
}

// ThreadGuild returns the guild a thread belongs to.
func (s *RedisStore) ThreadGuild(threadID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	guildID, ok := s.threadGuild[threadID]

	return guildID, ok
}
