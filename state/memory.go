package state

import (
	"sync"

	"github.com/pastaland/gondola/discord"
)

// MemoryStore is the default in-process Store.
type MemoryStore struct {
	sync.RWMutex

	// MaxMessageCount is how many messages per channel are kept. Zero
	// disables message tracking.
	MaxMessageCount int

	guilds   map[string]*discord.Guild
	channels map[string]*discord.Channel
	users    map[string]*discord.User
	members  map[string]map[string]*discord.Member
	voice    map[string]map[string]*discord.VoiceState

	unavailable  map[string]struct{}
	guildShards  map[string]int
	channelGuild map[string]string
	threadGuild  map[string]string
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(maxMessages int) *MemoryStore {
	return &MemoryStore{
		MaxMessageCount: maxMessages,
		guilds:          make(map[string]*discord.Guild),
		channels:        make(map[string]*discord.Channel),
		users:           make(map[string]*discord.User),
		members:         make(map[string]map[string]*discord.Member),
		voice:           make(map[string]map[string]*discord.VoiceState),
		unavailable:     make(map[string]struct{}),
		guildShards:     make(map[string]int),
		channelGuild:    make(map[string]string),
		threadGuild:     make(map[string]string),
	}
}

// GuildAdd adds a guild to the store, or merges it into an existing entry.
func (s *MemoryStore) GuildAdd(guild *discord.Guild) error {
	s.Lock()
	defer s.Unlock()

	if old, ok := s.guilds[guild.ID]; ok {
		// Update events carry partial guilds; keep what the wire omitted.
		if guild.Roles == nil {
			guild.Roles = old.Roles
		}
		if guild.Emojis == nil {
			guild.Emojis = old.Emojis
		}
		if guild.Members == nil {
			guild.Members = old.Members
		}
		if guild.Channels == nil {
			guild.Channels = old.Channels
		}
		if guild.VoiceStates == nil {
			guild.VoiceStates = old.VoiceStates
		}
		if guild.MemberCount == 0 {
			guild.MemberCount = old.MemberCount
		}
		if guild.JoinedAt == "" {
			guild.JoinedAt = old.JoinedAt
		}
	}

	s.guilds[guild.ID] = guild

	for _, channel := range guild.Channels {
		channel.GuildID = guild.ID
		s.channels[channel.ID] = channel
	}

	for _, member := range guild.Members {
		member.GuildID = guild.ID
		s.memberAdd(member)
	}

	for _, voiceState := range guild.VoiceStates {
		voiceState.GuildID = guild.ID
		s.voiceStateAdd(voiceState)
	}

	return nil
}

// GuildRemove removes a guild and its channel entries from the store.
func (s *MemoryStore) GuildRemove(guildID string) error {
	s.Lock()
	defer s.Unlock()

	guild, ok := s.guilds[guildID]
	if !ok {
		return ErrNotFound
	}

	for _, channel := range guild.Channels {
		delete(s.channels, channel.ID)
	}

	delete(s.guilds, guildID)
	delete(s.members, guildID)
	delete(s.voice, guildID)

	return nil
}

// Guild gets a guild by ID.
func (s *MemoryStore) Guild(guildID string) (*discord.Guild, error) {
	s.RLock()
	defer s.RUnlock()

	guild, ok := s.guilds[guildID]
	if !ok {
		return nil, ErrNotFound
	}

	return guild, nil
}

// ChannelAdd adds a channel to the store, merging cache-only fields from
// any existing entry.
func (s *MemoryStore) ChannelAdd(channel *discord.Channel) error {
	s.Lock()
	defer s.Unlock()

	if old, ok := s.channels[channel.ID]; ok {
		if channel.Messages == nil {
			channel.Messages = old.Messages
		}
		if channel.Overwrites == nil {
			channel.Overwrites = old.Overwrites
		}
	}

	s.channels[channel.ID] = channel

	if guild, ok := s.guilds[channel.GuildID]; ok {
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
	}

	return nil
}

// ChannelRemove removes a channel from the store.
func (s *MemoryStore) ChannelRemove(channelID string) error {
	s.Lock()
	defer s.Unlock()

	channel, ok := s.channels[channelID]
	if !ok {
		return ErrNotFound
	}

	delete(s.channels, channelID)

	if guild, ok := s.guilds[channel.GuildID]; ok {
		for i, c := range guild.Channels {
			if c.ID == channelID {
				guild.Channels = append(guild.Channels[:i], guild.Channels[i+1:]...)

				break
			}
		}
	}

	return nil
}

// Channel gets a channel by ID.
func (s *MemoryStore) Channel(channelID string) (*discord.Channel, error) {
	s.RLock()
	defer s.RUnlock()

	channel, ok := s.channels[channelID]
	if !ok {
		return nil, ErrNotFound
	}

	return channel, nil
}

// UserAdd adds a user to the store.
func (s *MemoryStore) UserAdd(user *discord.User) error {
	s.Lock()
	defer s.Unlock()

	s.users[user.ID] = user

	return nil
}

// User gets a user by ID.
func (s *MemoryStore) User(userID string) (*discord.User, error) {
	s.RLock()
	defer s.RUnlock()

	user, ok := s.users[userID]
	if !ok {
		return nil, ErrNotFound
	}

	return user, nil
}

func (s *MemoryStore) memberAdd(member *discord.Member) {
	if member.User == nil {
		return
	}

	guildMembers, ok := s.members[member.GuildID]
	if !ok {
		guildMembers = make(map[string]*discord.Member)
		s.members[member.GuildID] = guildMembers
	}

	if old, ok := guildMembers[member.User.ID]; ok && member.JoinedAt == "" {
		member.JoinedAt = old.JoinedAt
	}

	guildMembers[member.User.ID] = member
	s.users[member.User.ID] = member.User
}

// MemberAdd adds a member to its guild, or updates an existing entry.
func (s *MemoryStore) MemberAdd(member *discord.Member) error {
	if member.User == nil {
		return ErrNotFound
	}

	s.Lock()
	defer s.Unlock()

	s.memberAdd(member)

	return nil
}

// MemberRemove removes a member from its guild.
func (s *MemoryStore) MemberRemove(guildID, userID string) error {
	s.Lock()
	defer s.Unlock()

	guildMembers, ok := s.members[guildID]
	if !ok {
		return ErrNotFound
	}

	if _, ok := guildMembers[userID]; !ok {
		return ErrNotFound
	}

	delete(guildMembers, userID)

	return nil
}

// Member gets a member by guild and user ID.
func (s *MemoryStore) Member(guildID, userID string) (*discord.Member, error) {
	s.RLock()
	defer s.RUnlock()

	member, ok := s.members[guildID][userID]
	if !ok {
		return nil, ErrNotFound
	}

	return member, nil
}

// RoleAdd adds a role to a cached guild, or updates an existing entry.
func (s *MemoryStore) RoleAdd(guildID string, role *discord.Role) error {
	s.Lock()
	defer s.Unlock()

	guild, ok := s.guilds[guildID]
	if !ok {
		return ErrNotFound
	}

	for i, r := range guild.Roles {
		if r.ID == role.ID {
			guild.Roles[i] = role

			return nil
		}
	}

	guild.Roles = append(guild.Roles, role)

	return nil
}

// RoleRemove removes a role from a cached guild.
func (s *MemoryStore) RoleRemove(guildID, roleID string) error {
	s.Lock()
	defer s.Unlock()

	guild, ok := s.guilds[guildID]
	if !ok {
		return ErrNotFound
	}

	for i, r := range guild.Roles {
		if r.ID == roleID {
			guild.Roles = append(guild.Roles[:i], guild.Roles[i+1:]...)

			return nil
		}
	}

	return ErrNotFound
}

// EmojisSet replaces the emoji list of a cached guild.
func (s *MemoryStore) EmojisSet(guildID string, emojis []*discord.Emoji) error {
	s.Lock()
	defer s.Unlock()

	guild, ok := s.guilds[guildID]
	if !ok {
		return ErrNotFound
	}

	guild.Emojis = emojis

	return nil
}

// MessageAdd adds a message to its channel, or merges the new contents
// into an existing entry. Messages are kept up to MaxMessageCount per
// channel; the message is discarded when the channel is not cached.
func (s *MemoryStore) MessageAdd(message *discord.Message) error {
	if s.MaxMessageCount == 0 {
		return nil
	}

	s.Lock()
	defer s.Unlock()

	channel, ok := s.channels[message.ChannelID]
	if !ok {
		return ErrNotFound
	}

	for _, m := range channel.Messages {
		if m.ID == message.ID {
			if message.Content != "" {
				m.Content = message.Content
			}
			if message.EditedTimestamp != "" {
				m.EditedTimestamp = message.EditedTimestamp
			}
			if message.Mentions != nil {
				m.Mentions = message.Mentions
			}
			if message.Author != nil {
				m.Author = message.Author
			}
			if message.Pinned != m.Pinned {
				m.Pinned = message.Pinned
			}

			return nil
		}
	}

	channel.Messages = append(channel.Messages, message)

	if len(channel.Messages) > s.MaxMessageCount {
		channel.Messages = channel.Messages[len(channel.Messages)-s.MaxMessageCount:]
	}

	return nil
}

// MessageRemove removes a message from its channel.
func (s *MemoryStore) MessageRemove(channelID, messageID string) error {
	s.Lock()
	defer s.Unlock()

	channel, ok := s.channels[channelID]
	if !ok {
		return ErrNotFound
	}

	for i, m := range channel.Messages {
		if m.ID == messageID {
			channel.Messages = append(channel.Messages[:i], channel.Messages[i+1:]...)

			return nil
		}
	}

	return ErrNotFound
}

// Message gets a message by channel and message ID.
func (s *MemoryStore) Message(channelID, messageID string) (*discord.Message, error) {
	s.RLock()
	defer s.RUnlock()

	channel, ok := s.channels[channelID]
	if !ok {
		return nil, ErrNotFound
	}

	for _, m := range channel.Messages {
		if m.ID == messageID {
			return m, nil
		}
	}

	return nil, ErrNotFound
}

func (s *MemoryStore) voiceStateAdd(voiceState *discord.VoiceState) {
	guildVoice, ok := s.voice[voiceState.GuildID]
	if !ok {
		guildVoice = make(map[string]*discord.VoiceState)
		s.voice[voiceState.GuildID] = guildVoice
	}

	guildVoice[voiceState.UserID] = voiceState
}

// VoiceStateAdd adds a voice state to its guild, or updates an existing
// entry.
func (s *MemoryStore) VoiceStateAdd(voiceState *discord.VoiceState) error {
	s.Lock()
	defer s.Unlock()

	s.voiceStateAdd(voiceState)

	return nil
}

// VoiceStateRemove removes a voice state from its guild.
func (s *MemoryStore) VoiceStateRemove(guildID, userID string) error {
	s.Lock()
	defer s.Unlock()

	guildVoice, ok := s.voice[guildID]
	if !ok {
		return ErrNotFound
	}

	if _, ok := guildVoice[userID]; !ok {
		return ErrNotFound
	}

	delete(guildVoice, userID)

	return nil
}

// VoiceState gets a voice state by guild and user ID.
func (s *MemoryStore) VoiceState(guildID, userID string) (*discord.VoiceState, error) {
	s.RLock()
	defer s.RUnlock()

	voiceState, ok := s.voice[guildID][userID]
	if !ok {
		return nil, ErrNotFound
	}

	return voiceState, nil
}

// UnavailableAdd marks a guild as unavailable.
func (s *MemoryStore) UnavailableAdd(guildID string) {
	s.Lock()
	defer s.Unlock()

	s.unavailable[guildID] = struct{}{}
}

// UnavailableRemove clears the unavailable marker for a guild.
func (s *MemoryStore) UnavailableRemove(guildID string) {
	s.Lock()
	defer s.Unlock()

	delete(s.unavailable, guildID)
}

// IsUnavailable reports whether a guild is currently marked unavailable.
func (s *MemoryStore) IsUnavailable(guildID string) bool {
	s.RLock()
	defer s.RUnlock()

	_, ok := s.unavailable[guildID]

	return ok
}

// UnavailableCount returns how many guilds are marked unavailable.
func (s *MemoryStore) UnavailableCount() int {
	s.RLock()
	defer s.RUnlock()

	return len(s.unavailable)
}

// GuildShardSet records which shard owns a guild.
func (s *MemoryStore) GuildShardSet(guildID string, shardID int) {
	s.Lock()
	defer s.Unlock()

	s.guildShards[guildID] = shardID
}

// GuildShardRemove removes the shard mapping for a guild.
func (s *MemoryStore) GuildShardRemove(guildID string) {
	s.Lock()
	defer s.Unlock()

	delete(s.guildShards, guildID)
}

// GuildShard returns the shard that owns a guild.
func (s *MemoryStore) GuildShard(guildID string) (int, bool) {
	s.RLock()
	defer s.RUnlock()

	shardID, ok := s.guildShards[guildID]

	return shardID, ok
}

// ChannelGuildSet records which guild a channel belongs to.
func (s *MemoryStore) ChannelGuildSet(channelID, guildID string) {
	s.Lock()
	defer s.Unlock()

	s.channelGuild[channelID] = guildID
}

// ChannelGuildRemove removes the guild mapping for a channel.
func (s *MemoryStore) ChannelGuildRemove(channelID string) {
	s.Lock()
	defer s.Unlock()

	delete(s.channelGuild, channelID)
}

// ChannelGuild returns the guild a channel belongs to.
func (s *MemoryStore) ChannelGuild(channelID string) (string, bool) {
	s.RLock()
	defer s.RUnlock()

	guildID, ok := s.channelGuild[channelID]

	return guildID, ok
}

// ThreadGuildSet records which guild a thread belongs to.
func (s *MemoryStore) ThreadGuildSet(threadID, guildID string) {
	s.Lock()
	defer s.Unlock()

	s.threadGuild[threadID] = guildID
}

// ThreadGuildRemove removes the guild mapping for a thread.
func (s *MemoryStore) ThreadGuildRemove(threadID string) {
	s.Lock()
	defer s.Unlock()

	delete(s.threadGuild, threadID)
}

// ThreadGuild returns the guild a thread belongs to.
func (s *MemoryStore) ThreadGuild(threadID string) (string, bool) {
	s.RLock()
	defer s.RUnlock()

	guildID, ok := s.threadGuild[threadID]

	return guildID, ok
}
