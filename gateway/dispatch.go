package gateway

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/pastaland/gondola/discord"
	"github.com/pastaland/gondola/state"
)

// onDispatch advances the sequence counter and routes a DISPATCH packet
// to its handler. Handlers run on the read goroutine; cache writes for a
// shard are therefore naturally ordered.
func (s *Shard) onDispatch(packet *Packet) {
	if packet.Sequence > 0 {
		current := s.session.Sequence()
		if current > 0 && packet.Sequence != current+1 {
			s.log.Warn().
				Int64("expected", current+1).
				Int64("got", packet.Sequence).
				Str("type", packet.Type).
				Msg("Dispatch sequence gap")
		}

		// The stored sequence is the maximum seen; a stale number must
		// not regress the resume point.
		if packet.Sequence > current {
			s.session.SetSequence(packet.Sequence)
		}
	}

	if err := s.routeDispatch(packet); err != nil {
		s.emitError(fmt.Errorf("handling %s: %w", packet.Type, err))
	}
}

func (s *Shard) routeDispatch(packet *Packet) error {
	switch packet.Type {
	case "READY":
		return s.onReady(packet)
	case "RESUMED":
		s.onResumed()
	case "GUILD_CREATE":
		return s.onGuildCreate(packet)
	case "GUILD_UPDATE":
		return s.onGuildUpdate(packet)
	case "GUILD_DELETE":
		return s.onGuildDelete(packet)
	case "GUILD_MEMBERS_CHUNK":
		return s.onGuildMembersChunk(packet)
	case "GUILD_MEMBER_ADD":
		return s.onGuildMember(packet, EventGuildMemberAdd)
	case "GUILD_MEMBER_UPDATE":
		return s.onGuildMember(packet, EventGuildMemberUpdate)
	case "GUILD_MEMBER_REMOVE":
		return s.onGuildMemberRemove(packet)
	case "GUILD_BAN_ADD":
		return s.onGuildBan(packet, EventGuildBanAdd)
	case "GUILD_BAN_REMOVE":
		return s.onGuildBan(packet, EventGuildBanRemove)
	case "GUILD_ROLE_CREATE":
		return s.onGuildRole(packet, EventGuildRoleCreate)
	case "GUILD_ROLE_UPDATE":
		return s.onGuildRole(packet, EventGuildRoleUpdate)
	case "GUILD_ROLE_DELETE":
		return s.onGuildRoleDelete(packet)
	case "GUILD_EMOJIS_UPDATE":
		return s.onGuildEmojisUpdate(packet)
	case "GUILD_INTEGRATIONS_UPDATE":
		return s.emitDecoded(packet, EventGuildIntegrationsUpdate, &discord.GuildIntegrationsUpdate{})
	case "CHANNEL_CREATE":
		return s.onChannel(packet, EventChannelCreate)
	case "CHANNEL_UPDATE":
		return s.onChannel(packet, EventChannelUpdate)
	case "CHANNEL_DELETE":
		return s.onChannelDelete(packet)
	case "CHANNEL_PINS_UPDATE":
		return s.onChannelPinsUpdate(packet)
	case "THREAD_CREATE":
		return s.onThread(packet, EventThreadCreate)
	case "THREAD_UPDATE":
		return s.onThread(packet, EventThreadUpdate)
	case "THREAD_DELETE":
		return s.onThreadDelete(packet)
	case "MESSAGE_CREATE":
		return s.onMessage(packet, EventMessageCreate)
	case "MESSAGE_UPDATE":
		return s.onMessage(packet, EventMessageUpdate)
	case "MESSAGE_DELETE":
		return s.onMessageDelete(packet)
	case "MESSAGE_DELETE_BULK":
		return s.onMessageDeleteBulk(packet)
	case "MESSAGE_REACTION_ADD":
		return s.onReactionAdd(packet)
	case "MESSAGE_REACTION_REMOVE":
		return s.onReactionRemove(packet)
	case "MESSAGE_REACTION_REMOVE_ALL":
		return s.onReactionRemoveAll(packet)
	case "MESSAGE_REACTION_REMOVE_EMOJI":
		return s.onReactionRemoveEmoji(packet)
	case "PRESENCE_UPDATE":
		return s.onPresenceUpdate(packet)
	case "TYPING_START":
		return s.emitDecoded(packet, EventTypingStart, &discord.TypingStart{})
	case "USER_UPDATE":
		return s.onUserUpdate(packet)
	case "VOICE_STATE_UPDATE":
		return s.onVoiceStateUpdate(packet)
	case "VOICE_SERVER_UPDATE":
		return s.emitDecoded(packet, EventVoiceServerUpdate, &discord.VoiceServerUpdate{})
	case "WEBHOOKS_UPDATE":
		return s.emitDecoded(packet, EventWebhooksUpdate, &discord.WebhooksUpdate{})
	default:
		s.log.Debug().Str("type", packet.Type).Msg("Unhandled dispatch type")
		s.client.Emit(EventUnknown, &PacketEvent{ShardID: s.ID, Packet: packet})
	}

	return nil
}

// emitDecoded decodes the payload into v and emits it unchanged.
func (s *Shard) emitDecoded(packet *Packet, event string, v interface{}) error {
	if err := s.codecDecode(packet.Data, v); err != nil {
		return err
	}

	s.client.Emit(event, v)

	return nil
}

// normalizeResumeURL rewrites the resume_gateway_url so the next connect
// carries exactly our version, encoding and compression parameters.
func normalizeResumeURL(raw string) string {
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}

	u.RawQuery = ""
	u.Fragment = ""

	return strings.TrimSuffix(u.String(), "/")
}

func (s *Shard) onReady(packet *Packet) error {
	var ready discord.Ready
	if err := s.codecDecode(packet.Data, &ready); err != nil {
		return err
	}

	s.mu.Lock()
	if s.connectTimer != nil {
		s.connectTimer.Stop()
		s.connectTimer = nil
	}
	s.mu.Unlock()

	s.session.ConnectSucceeded()
	s.session.SetSession(ready.SessionID, normalizeResumeURL(ready.ResumeGatewayURL))
	s.session.SetApplication(ready.Application)
	s.session.SetStatus(StatusReady)

	st := s.client.State()
	if ready.User != nil {
		_ = st.UserAdd(ready.User)
	}

	s.startupMu.Lock()
	s.becameReady = false
	if ready.User != nil {
		s.selfUserID = ready.User.ID
	}
	s.pendingGuilds = make(map[string]struct{}, len(ready.Guilds))
	for _, guild := range ready.Guilds {
		s.pendingGuilds[guild.ID] = struct{}{}
		st.UnavailableAdd(guild.ID)
		st.GuildShardSet(guild.ID, s.ID)
	}
	pending := len(s.pendingGuilds)
	s.startupMu.Unlock()

	s.log.Info().
		Str("session", ready.SessionID).
		Int("guilds", pending).
		Msg("Shard received READY")

	s.client.Emit(EventShardPreReady, &ShardNotice{ShardID: s.ID, Message: "ready, waiting for guilds"})

	if pending == 0 {
		s.markReady()
	} else {
		s.armGuildTimer()
	}

	return nil
}

func (s *Shard) onResumed() {
	s.mu.Lock()
	if s.connectTimer != nil {
		s.connectTimer.Stop()
		s.connectTimer = nil
	}
	s.mu.Unlock()

	s.session.ConnectSucceeded()
	s.session.SetStatus(StatusReady)

	s.startupMu.Lock()
	s.becameReady = true
	s.startupMu.Unlock()

	s.log.Info().Msg("Shard resumed session")
	s.client.Emit(EventShardResume, &ShardNotice{ShardID: s.ID, Message: "resumed"})
	s.client.ShardReady(s.ID)
}

// armGuildTimer (re)starts the startup settle timer. Guilds that never
// stream in within the quiet period are left unavailable and the shard
// declares itself ready anyway.
func (s *Shard) armGuildTimer() {
	s.startupMu.Lock()
	defer s.startupMu.Unlock()

	if s.becameReady {
		return
	}

	timeout := s.client.Options().GuildCreateTimeout
	if s.guildTimer == nil {
		s.guildTimer = time.AfterFunc(timeout, s.markReady)
	} else {
		s.guildTimer.Stop()
		s.guildTimer.Reset(timeout)
	}
}

// markReady transitions the shard to ready exactly once per session.
// When members are being fetched up front, ready waits for the chunk
// queue to drain first.
func (s *Shard) markReady() {
	s.startupMu.Lock()
	if s.becameReady {
		s.startupMu.Unlock()

		return
	}

	if s.client.Options().GetAllUsers && (len(s.chunkQueue) > 0 || s.chunkInFlight) {
		s.startupMu.Unlock()
		s.pumpMemberRequests()

		return
	}

	s.becameReady = true
	if s.guildTimer != nil {
		s.guildTimer.Stop()
		s.guildTimer = nil
	}
	missing := len(s.pendingGuilds)
	s.startupMu.Unlock()

	if missing > 0 {
		s.log.Warn().Int("guilds", missing).Msg("Some guilds never became available during startup")
	}

	s.log.Info().Msg("Shard ready")
	s.client.Emit(EventShardReady, &ShardNotice{ShardID: s.ID, Message: "ready"})
	s.client.ShardReady(s.ID)
}

// resetStartup clears the startup bookkeeping when the connection goes
// away.
func (s *Shard) resetStartup() {
	s.startupMu.Lock()
	defer s.startupMu.Unlock()

	if s.guildTimer != nil {
		s.guildTimer.Stop()
		s.guildTimer = nil
	}

	s.pendingGuilds = make(map[string]struct{})
	s.chunkQueue = nil
	s.chunkInFlight = false
	s.becameReady = false
}

// pumpMemberRequests fetches members for one queued guild at a time.
// Draining one request before issuing the next keeps a big bot from
// burning its whole send budget on chunk requests. When the queue runs
// dry before the shard is ready, markReady finishes the startup.
func (s *Shard) pumpMemberRequests() {
	if !s.client.Options().GetAllUsers {
		return
	}

	s.startupMu.Lock()
	if s.chunkInFlight || len(s.chunkQueue) == 0 {
		s.startupMu.Unlock()

		return
	}

	guildID := s.chunkQueue[0]
	s.chunkQueue = s.chunkQueue[1:]
	s.chunkInFlight = true
	s.startupMu.Unlock()

	go func() {
		_, err := s.RequestGuildMembers(MemberRequest{GuildID: guildID})
		if err != nil {
			s.log.Warn().Err(err).Str("guild", guildID).Msg("Member fetch failed")
		}

		s.startupMu.Lock()
		s.chunkInFlight = false
		ready := s.becameReady
		s.startupMu.Unlock()

		if ready {
			s.pumpMemberRequests()
		} else {
			s.markReady()
		}
	}()
}

// cacheGuild writes a GUILD_CREATE payload and its nested entities into
// the state store.
func (s *Shard) cacheGuild(st state.Store, guild *discord.Guild) error {
	if err := st.GuildAdd(guild); err != nil {
		return err
	}

	st.GuildShardSet(guild.ID, s.ID)

	for _, channel := range guild.Channels {
		channel.GuildID = guild.ID
		_ = st.ChannelAdd(channel)
		st.ChannelGuildSet(channel.ID, guild.ID)
	}

	for _, thread := range guild.Threads {
		thread.GuildID = guild.ID
		_ = st.ChannelAdd(thread)
		st.ThreadGuildSet(thread.ID, guild.ID)
	}

	for _, member := range guild.Members {
		member.GuildID = guild.ID
		_ = st.MemberAdd(member)
	}

	for _, voice := range guild.VoiceStates {
		voice.GuildID = guild.ID
		_ = st.VoiceStateAdd(voice)
	}

	return nil
}

func (s *Shard) onGuildCreate(packet *Packet) error {
	var guild discord.Guild
	if err := s.codecDecode(packet.Data, &guild); err != nil {
		return err
	}

	st := s.client.State()
	wasUnavailable := st.IsUnavailable(guild.ID)

	if guild.Unavailable {
		// An unavailable GUILD_CREATE carries no entities worth caching.
		_ = st.GuildRemove(guild.ID)
		st.UnavailableAdd(guild.ID)
		s.client.Emit(EventGuildUnavailable, StubGuild(guild.ID))

		return nil
	}

	if err := s.cacheGuild(st, &guild); err != nil {
		return err
	}

	st.UnavailableRemove(guild.ID)

	s.startupMu.Lock()
	_, streaming := s.pendingGuilds[guild.ID]
	if streaming {
		delete(s.pendingGuilds, guild.ID)
	}
	if s.client.Options().GetAllUsers {
		s.chunkQueue = append(s.chunkQueue, guild.ID)
	}
	settled := streaming && len(s.pendingGuilds) == 0
	ready := s.becameReady
	s.startupMu.Unlock()

	switch {
	case streaming:
		// Part of the initial guild stream; consumers hear about these
		// via the ready event, not one guildCreate each.
		if settled {
			s.markReady()
		} else {
			s.armGuildTimer()
		}
	case wasUnavailable:
		s.client.Emit(EventGuildAvailable, CachedGuild(&guild))
	default:
		s.client.Emit(EventGuildCreate, CachedGuild(&guild))
	}

	if ready {
		s.pumpMemberRequests()
	}

	return nil
}

func (s *Shard) onGuildUpdate(packet *Packet) error {
	var guild discord.Guild
	if err := s.codecDecode(packet.Data, &guild); err != nil {
		return err
	}

	st := s.client.State()
	if err := st.GuildAdd(&guild); err != nil {
		return err
	}

	merged, err := st.Guild(guild.ID)
	if err != nil {
		merged = &guild
	}

	s.client.Emit(EventGuildUpdate, CachedGuild(merged))

	return nil
}

func (s *Shard) onGuildDelete(packet *Packet) error {
	var stub discord.UnavailableGuild
	if err := s.codecDecode(packet.Data, &stub); err != nil {
		return err
	}

	st := s.client.State()

	if stub.Unavailable {
		// An outage, not a removal. The guild stays cached and comes
		// back with a GUILD_CREATE.
		st.UnavailableAdd(stub.ID)

		ref := StubGuild(stub.ID)
		if guild, err := st.Guild(stub.ID); err == nil {
			ref = CachedGuild(guild)
		}

		s.client.Emit(EventGuildUnavailable, ref)

		return nil
	}

	ref := StubGuild(stub.ID)
	if guild, err := st.Guild(stub.ID); err == nil {
		ref = CachedGuild(guild)

		for _, channel := range guild.Channels {
			st.ChannelGuildRemove(channel.ID)
			_ = st.ChannelRemove(channel.ID)
		}
		for _, thread := range guild.Threads {
			st.ThreadGuildRemove(thread.ID)
			_ = st.ChannelRemove(thread.ID)
		}
	}

	_ = st.GuildRemove(stub.ID)
	st.GuildShardRemove(stub.ID)
	st.UnavailableRemove(stub.ID)

	s.client.Emit(EventGuildDelete, ref)

	return nil
}

func (s *Shard) onGuildMembersChunk(packet *Packet) error {
	var chunk discord.GuildMembersChunk
	if err := s.codecDecode(packet.Data, &chunk); err != nil {
		return err
	}

	presences := make(map[string]*discord.Presence, len(chunk.Presences))
	for _, presence := range chunk.Presences {
		if presence.User != nil {
			presences[presence.User.ID] = presence
		}
	}

	st := s.client.State()
	for _, member := range chunk.Members {
		member.GuildID = chunk.GuildID
		if member.User != nil {
			member.Presence = presences[member.User.ID]
		}

		_ = st.MemberAdd(member)
	}

	// A chunk proves the connection is alive even when a long chunking
	// burst keeps the read loop from seeing heartbeat acks.
	s.session.MarkAlive()

	if chunk.Nonce != "" {
		s.chunks.accumulate(&chunk)
	}

	s.client.Emit(EventGuildMemberChunk, &MemberChunkEvent{
		GuildID: chunk.GuildID,
		Members: chunk.Members,
		Index:   chunk.ChunkIndex,
		Count:   chunk.ChunkCount,
	})

	return nil
}

func (s *Shard) onGuildMember(packet *Packet, event string) error {
	var member discord.Member
	if err := s.codecDecode(packet.Data, &member); err != nil {
		return err
	}

	if err := s.client.State().MemberAdd(&member); err != nil {
		return err
	}

	s.client.Emit(event, &member)

	return nil
}

func (s *Shard) onGuildMemberRemove(packet *Packet) error {
	var ev discord.GuildMemberRemove
	if err := s.codecDecode(packet.Data, &ev); err != nil {
		return err
	}

	if ev.User != nil {
		_ = s.client.State().MemberRemove(ev.GuildID, ev.User.ID)
	}

	s.client.Emit(EventGuildMemberRemove, &ev)

	return nil
}

func (s *Shard) onGuildBan(packet *Packet, event string) error {
	// Bans do not touch the cache; the matching member remove arrives as
	// its own dispatch.
	var ev discord.GuildBan
	if err := s.codecDecode(packet.Data, &ev); err != nil {
		return err
	}

	s.client.Emit(event, &ev)

	return nil
}

func (s *Shard) onGuildRole(packet *Packet, event string) error {
	var ev discord.GuildRoleEvent
	if err := s.codecDecode(packet.Data, &ev); err != nil {
		return err
	}

	if err := s.client.State().RoleAdd(ev.GuildID, ev.Role); err != nil {
		return err
	}

	s.client.Emit(event, &ev)

	return nil
}

func (s *Shard) onGuildRoleDelete(packet *Packet) error {
	var ev discord.GuildRoleDelete
	if err := s.codecDecode(packet.Data, &ev); err != nil {
		return err
	}

	_ = s.client.State().RoleRemove(ev.GuildID, ev.RoleID)

	s.client.Emit(EventGuildRoleDelete, &ev)

	return nil
}

func (s *Shard) onGuildEmojisUpdate(packet *Packet) error {
	var ev discord.GuildEmojisUpdate
	if err := s.codecDecode(packet.Data, &ev); err != nil {
		return err
	}

	if err := s.client.State().EmojisSet(ev.GuildID, ev.Emojis); err != nil {
		return err
	}

	s.client.Emit(EventGuildEmojisUpdate, &ev)

	return nil
}

func (s *Shard) onChannel(packet *Packet, event string) error {
	var channel discord.Channel
	if err := s.codecDecode(packet.Data, &channel); err != nil {
		return err
	}

	st := s.client.State()
	if err := st.ChannelAdd(&channel); err != nil {
		return err
	}

	if channel.GuildID != "" {
		st.ChannelGuildSet(channel.ID, channel.GuildID)
	}

	s.client.Emit(event, &channel)

	return nil
}

func (s *Shard) onChannelDelete(packet *Packet) error {
	var channel discord.Channel
	if err := s.codecDecode(packet.Data, &channel); err != nil {
		return err
	}

	st := s.client.State()
	_ = st.ChannelRemove(channel.ID)
	st.ChannelGuildRemove(channel.ID)

	s.client.Emit(EventChannelDelete, &channel)

	return nil
}

func (s *Shard) onChannelPinsUpdate(packet *Packet) error {
	var ev discord.ChannelPinsUpdate
	if err := s.codecDecode(packet.Data, &ev); err != nil {
		return err
	}

	st := s.client.State()
	if channel, err := st.Channel(ev.ChannelID); err == nil {
		channel.LastPinTimestamp = ev.LastPinTimestamp
		_ = st.ChannelAdd(channel)
	}

	s.client.Emit(EventChannelPinUpdate, &ev)

	return nil
}

func (s *Shard) onThread(packet *Packet, event string) error {
	var thread discord.Channel
	if err := s.codecDecode(packet.Data, &thread); err != nil {
		return err
	}

	st := s.client.State()
	if err := st.ChannelAdd(&thread); err != nil {
		return err
	}

	if thread.GuildID != "" {
		st.ThreadGuildSet(thread.ID, thread.GuildID)
	}

	s.client.Emit(event, &thread)

	return nil
}

func (s *Shard) onThreadDelete(packet *Packet) error {
	var thread discord.Channel
	if err := s.codecDecode(packet.Data, &thread); err != nil {
		return err
	}

	st := s.client.State()
	_ = st.ChannelRemove(thread.ID)
	st.ThreadGuildRemove(thread.ID)

	s.client.Emit(EventThreadDelete, &thread)

	return nil
}

func (s *Shard) onMessage(packet *Packet, event string) error {
	var message discord.Message
	if err := s.codecDecode(packet.Data, &message); err != nil {
		return err
	}

	if message.Member != nil {
		message.Member.GuildID = message.GuildID
		message.Member.User = message.Author
	}

	st := s.client.State()
	if err := st.MessageAdd(&message); err != nil && err != state.ErrNotFound {
		return err
	}

	if message.Author != nil {
		_ = st.UserAdd(message.Author)
	}

	s.client.Emit(event, &message)

	return nil
}

func (s *Shard) onMessageDelete(packet *Packet) error {
	var ev discord.MessageDelete
	if err := s.codecDecode(packet.Data, &ev); err != nil {
		return err
	}

	_ = s.client.State().MessageRemove(ev.ChannelID, ev.ID)

	s.client.Emit(EventMessageDelete, &ev)

	return nil
}

func (s *Shard) onMessageDeleteBulk(packet *Packet) error {
	var ev discord.MessageDeleteBulk
	if err := s.codecDecode(packet.Data, &ev); err != nil {
		return err
	}

	st := s.client.State()
	for _, id := range ev.IDs {
		_ = st.MessageRemove(ev.ChannelID, id)
	}

	s.client.Emit(EventMessageDeleteBulk, &ev)

	return nil
}

func (s *Shard) selfUser() string {
	s.startupMu.Lock()
	defer s.startupMu.Unlock()

	return s.selfUserID
}

func (s *Shard) onReactionAdd(packet *Packet) error {
	var ev discord.MessageReaction
	if err := s.codecDecode(packet.Data, &ev); err != nil {
		return err
	}

	st := s.client.State()
	if message, err := st.Message(ev.ChannelID, ev.MessageID); err == nil && ev.Emoji != nil {
		if message.Reactions == nil {
			message.Reactions = make(map[string]*discord.Reaction)
		}

		key := ev.Emoji.ReactionKey()
		reaction := message.Reactions[key]
		if reaction == nil {
			reaction = &discord.Reaction{}
			message.Reactions[key] = reaction
		}

		reaction.Count++
		if ev.UserID == s.selfUser() {
			reaction.Me = true
		}

		_ = st.MessageAdd(message)
	}

	s.client.Emit(EventMessageReactionAdd, &ev)

	return nil
}

func (s *Shard) onReactionRemove(packet *Packet) error {
	var ev discord.MessageReaction
	if err := s.codecDecode(packet.Data, &ev); err != nil {
		return err
	}

	st := s.client.State()
	if message, err := st.Message(ev.ChannelID, ev.MessageID); err == nil && ev.Emoji != nil {
		key := ev.Emoji.ReactionKey()
		if reaction := message.Reactions[key]; reaction != nil {
			reaction.Count--
			if ev.UserID == s.selfUser() {
				reaction.Me = false
			}

			// A tally that hits zero is dropped rather than kept as an
			// empty entry.
			if reaction.Count <= 0 {
				delete(message.Reactions, key)
			}

			_ = st.MessageAdd(message)
		}
	}

	s.client.Emit(EventMessageReactionRemove, &ev)

	return nil
}

func (s *Shard) onReactionRemoveAll(packet *Packet) error {
	var ev discord.MessageReactionRemoveAll
	if err := s.codecDecode(packet.Data, &ev); err != nil {
		return err
	}

	st := s.client.State()
	if message, err := st.Message(ev.ChannelID, ev.MessageID); err == nil {
		message.Reactions = nil
		_ = st.MessageAdd(message)
	}

	s.client.Emit(EventMessageReactionRemoveAll, &ev)

	return nil
}

func (s *Shard) onReactionRemoveEmoji(packet *Packet) error {
	var ev discord.MessageReactionRemoveEmoji
	if err := s.codecDecode(packet.Data, &ev); err != nil {
		return err
	}

	st := s.client.State()
	if message, err := st.Message(ev.ChannelID, ev.MessageID); err == nil && ev.Emoji != nil {
		delete(message.Reactions, ev.Emoji.ReactionKey())
		_ = st.MessageAdd(message)
	}

	s.client.Emit(EventMessageReactionRemoveEmoji, &ev)

	return nil
}

func (s *Shard) onPresenceUpdate(packet *Packet) error {
	var presence discord.Presence
	if err := s.codecDecode(packet.Data, &presence); err != nil {
		return err
	}

	if presence.User != nil {
		st := s.client.State()
		if member, err := st.Member(presence.GuildID, presence.User.ID); err == nil {
			member.Presence = &presence
			_ = st.MemberAdd(member)
		}
	}

	s.client.Emit(EventPresenceUpdate, &presence)

	return nil
}

func (s *Shard) onUserUpdate(packet *Packet) error {
	var user discord.User
	if err := s.codecDecode(packet.Data, &user); err != nil {
		return err
	}

	_ = s.client.State().UserAdd(&user)

	s.client.Emit(EventUserUpdate, &user)

	return nil
}

func (s *Shard) onVoiceStateUpdate(packet *Packet) error {
	var voice discord.VoiceState
	if err := s.codecDecode(packet.Data, &voice); err != nil {
		return err
	}

	st := s.client.State()

	var oldChannelID string
	if old, err := st.VoiceState(voice.GuildID, voice.UserID); err == nil {
		oldChannelID = old.ChannelID
	}

	if voice.ChannelID == "" {
		_ = st.VoiceStateRemove(voice.GuildID, voice.UserID)
	} else {
		if channel, err := st.Channel(voice.ChannelID); err == nil && !channel.IsVoice() {
			s.log.Warn().
				Str("channel", voice.ChannelID).
				Msg("Voice state points at a non-voice channel")
		}

		_ = st.VoiceStateAdd(&voice)
	}

	if member, err := st.Member(voice.GuildID, voice.UserID); err == nil {
		member.Deaf = voice.Deaf
		member.Mute = voice.Mute
		_ = st.MemberAdd(member)
	}

	s.client.Emit(EventVoiceStateUpdate, &voice)

	move := &VoiceChannelMove{
		GuildID:      voice.GuildID,
		Member:       voice.Member,
		ChannelID:    voice.ChannelID,
		OldChannelID: oldChannelID,
	}

	switch {
	case oldChannelID == "" && voice.ChannelID != "":
		s.client.Emit(EventVoiceChannelJoin, move)
	case oldChannelID != "" && voice.ChannelID == "":
		s.client.Emit(EventVoiceChannelLeave, move)
	case oldChannelID != "" && voice.ChannelID != oldChannelID:
		s.client.Emit(EventVoiceChannelSwitch, move)
	}

	return nil
}
