package gateway

import (
	"sync"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"

	"github.com/pastaland/gondola/discord"
	"github.com/pastaland/gondola/state"
)

type emitted struct {
	event string
	data  interface{}
}

// fakeClient records everything a shard does to its client.
type fakeClient struct {
	opts  *Options
	store state.Store

	mu         sync.Mutex
	events     []emitted
	ready      []int
	reconnects []int
}

func newFakeClient() *fakeClient {
	opts := NewOptions("Bot token")
	opts.GuildCreateTimeout = 20 * time.Millisecond

	return &fakeClient{
		opts:  opts,
		store: state.NewMemoryStore(100),
	}
}

func (c *fakeClient) Options() *Options  { return c.opts }
func (c *fakeClient) GatewayURL() string { return "wss://gateway.discord.gg" }
func (c *fakeClient) State() state.Store { return c.store }

func (c *fakeClient) Emit(event string, data interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.events = append(c.events, emitted{event: event, data: data})
}

func (c *fakeClient) ShardReady(shardID int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ready = append(c.ready, shardID)
}

func (c *fakeClient) ShardReconnect(shardID int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.reconnects = append(c.reconnects, shardID)
}

func (c *fakeClient) shardReconnectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.reconnects)
}

func (c *fakeClient) emittedEvents(event string) []interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []interface{}
	for _, e := range c.events {
		if e.event == event {
			out = append(out, e.data)
		}
	}

	return out
}

func (c *fakeClient) shardReadyCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.ready)
}

func newTestShard(t *testing.T) (*Shard, *fakeClient) {
	t.Helper()

	client := newFakeClient()
	shard := NewShard(client, 0, zerolog.Nop())

	return shard, client
}

func dispatchPacket(seq int64, typ, data string) *Packet {
	return &Packet{
		Op:       OpDispatch,
		Sequence: seq,
		Type:     typ,
		Data:     jsoniter.RawMessage(data),
	}
}

func TestDispatchReady(t *testing.T) {
	shard, client := newTestShard(t)

	shard.onDispatch(dispatchPacket(1, "READY", `{
		"v": 10,
		"user": {"id": "bot", "username": "gondola"},
		"session_id": "sess",
		"resume_gateway_url": "wss://gateway-us-east1-b.discord.gg/?v=9&encoding=etf",
		"guilds": [{"id": "g1", "unavailable": true}, {"id": "g2", "unavailable": true}],
		"application": {"id": "app1", "flags": 565248}
	}`))

	if got := shard.session.SessionID(); got != "sess" {
		t.Fatalf("expected session id to be stored, got %q", got)
	}
	if got := shard.session.ResumeURL(); got != "wss://gateway-us-east1-b.discord.gg" {
		t.Fatalf("expected resume url to be normalized, got %q", got)
	}
	if got := shard.session.Sequence(); got != 1 {
		t.Fatalf("expected sequence 1, got %d", got)
	}
	if shard.Status() != StatusReady {
		t.Fatalf("expected shard to be ready, got %s", shard.Status())
	}
	if app := shard.Application(); app == nil || app.ID != "app1" {
		t.Fatalf("expected the application from READY to be kept, got %+v", app)
	}

	if !client.store.IsUnavailable("g1") || !client.store.IsUnavailable("g2") {
		t.Fatal("expected READY guilds to be marked unavailable")
	}
	if _, ok := client.store.GuildShard("g1"); !ok {
		t.Fatal("expected READY guilds to be routed to the shard")
	}

	if got := client.emittedEvents(EventShardPreReady); len(got) != 1 {
		t.Fatalf("expected one preReady event, got %d", len(got))
	}
	if got := client.emittedEvents(EventShardReady); len(got) != 0 {
		t.Fatal("expected shard to wait for guilds before declaring ready")
	}
}

func TestDispatchReadySettlesAfterGuilds(t *testing.T) {
	shard, client := newTestShard(t)

	shard.onDispatch(dispatchPacket(1, "READY", `{
		"user": {"id": "bot"},
		"session_id": "sess",
		"resume_gateway_url": "wss://resume.discord.gg",
		"guilds": [{"id": "g1", "unavailable": true}]
	}`))

	shard.onDispatch(dispatchPacket(2, "GUILD_CREATE", `{"id": "g1", "name": "Guild One", "member_count": 3}`))

	if got := client.emittedEvents(EventShardReady); len(got) != 1 {
		t.Fatalf("expected shard to be ready after its guilds arrived, got %d ready events", len(got))
	}
	if client.shardReadyCount() != 1 {
		t.Fatal("expected the client to be told the shard is ready")
	}

	// Streamed guilds produce no individual guildCreate events.
	if got := client.emittedEvents(EventGuildCreate); len(got) != 0 {
		t.Fatalf("expected no guildCreate for streamed guilds, got %d", len(got))
	}

	guild, err := client.store.Guild("g1")
	if err != nil {
		t.Fatalf("expected guild to be cached: %v", err)
	}
	if guild.Name != "Guild One" {
		t.Fatalf("unexpected cached guild: %+v", guild)
	}
	if client.store.IsUnavailable("g1") {
		t.Fatal("expected guild to no longer be unavailable")
	}
}

func TestDispatchReadyGuildTimeout(t *testing.T) {
	shard, client := newTestShard(t)

	shard.onDispatch(dispatchPacket(1, "READY", `{
		"user": {"id": "bot"},
		"session_id": "sess",
		"resume_gateway_url": "wss://resume.discord.gg",
		"guilds": [{"id": "never-arrives", "unavailable": true}]
	}`))

	deadline := time.After(time.Second)
	for client.shardReadyCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("shard never became ready after the guild timeout")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}

	if !client.store.IsUnavailable("never-arrives") {
		t.Fatal("expected the missing guild to stay unavailable")
	}
}

func TestDispatchGuildCreateAfterReady(t *testing.T) {
	shard, client := newTestShard(t)

	shard.onDispatch(dispatchPacket(1, "READY", `{
		"user": {"id": "bot"}, "session_id": "sess",
		"resume_gateway_url": "wss://resume.discord.gg", "guilds": []
	}`))

	shard.onDispatch(dispatchPacket(2, "GUILD_CREATE", `{
		"id": "new-guild",
		"name": "Fresh",
		"channels": [{"id": "c1", "type": 0}],
		"members": [{"user": {"id": "u1"}}]
	}`))

	refs := client.emittedEvents(EventGuildCreate)
	if len(refs) != 1 {
		t.Fatalf("expected one guildCreate, got %d", len(refs))
	}

	ref := refs[0].(GuildRef)
	if !ref.Cached() || ref.ID() != "new-guild" {
		t.Fatalf("unexpected guild reference: %+v", ref)
	}

	if guildID, ok := client.store.ChannelGuild("c1"); !ok || guildID != "new-guild" {
		t.Fatal("expected channel routing to be recorded")
	}
	if _, err := client.store.Member("new-guild", "u1"); err != nil {
		t.Fatalf("expected member to be cached: %v", err)
	}
}

func TestDispatchGuildAvailability(t *testing.T) {
	shard, client := newTestShard(t)

	shard.onDispatch(dispatchPacket(1, "READY", `{
		"user": {"id": "bot"}, "session_id": "sess",
		"resume_gateway_url": "wss://resume.discord.gg", "guilds": []
	}`))

	shard.onDispatch(dispatchPacket(2, "GUILD_CREATE", `{"id": "g1", "name": "Guild"}`))

	// Outage: unavailable GUILD_DELETE keeps the guild cached.
	shard.onDispatch(dispatchPacket(3, "GUILD_DELETE", `{"id": "g1", "unavailable": true}`))

	if got := client.emittedEvents(EventGuildUnavailable); len(got) != 1 {
		t.Fatalf("expected one guildUnavailable, got %d", len(got))
	}
	if _, err := client.store.Guild("g1"); err != nil {
		t.Fatal("expected guild to stay cached through an outage")
	}

	// Coming back is availability, not a join.
	shard.onDispatch(dispatchPacket(4, "GUILD_CREATE", `{"id": "g1", "name": "Guild"}`))

	if got := client.emittedEvents(EventGuildAvailable); len(got) != 1 {
		t.Fatalf("expected one guildAvailable, got %d", len(got))
	}

	// A real removal drops the cache entry.
	shard.onDispatch(dispatchPacket(5, "GUILD_DELETE", `{"id": "g1", "unavailable": false}`))

	if got := client.emittedEvents(EventGuildDelete); len(got) != 1 {
		t.Fatalf("expected one guildDelete, got %d", len(got))
	}
	if _, err := client.store.Guild("g1"); err != state.ErrNotFound {
		t.Fatal("expected guild to be removed from the cache")
	}
	if _, ok := client.store.GuildShard("g1"); ok {
		t.Fatal("expected guild routing to be removed")
	}
}

func TestDispatchSequenceAdvances(t *testing.T) {
	shard, _ := newTestShard(t)

	shard.onDispatch(dispatchPacket(5, "TYPING_START", `{"channel_id": "c", "user_id": "u"}`))

	if got := shard.session.Sequence(); got != 5 {
		t.Fatalf("expected sequence 5, got %d", got)
	}

	// A gap is tolerated; the counter snaps forward.
	shard.onDispatch(dispatchPacket(9, "TYPING_START", `{"channel_id": "c", "user_id": "u"}`))

	if got := shard.session.Sequence(); got != 9 {
		t.Fatalf("expected sequence 9, got %d", got)
	}
}

func TestDispatchMemberChunkCachesAndCorrelates(t *testing.T) {
	shard, client := newTestShard(t)

	result := shard.chunks.add("nonce", "g1", time.Minute)

	shard.onDispatch(dispatchPacket(1, "GUILD_MEMBERS_CHUNK", `{
		"guild_id": "g1",
		"chunk_index": 0,
		"chunk_count": 1,
		"nonce": "nonce",
		"members": [{"user": {"id": "u1", "username": "one"}}],
		"presences": [{"user": {"id": "u1"}, "status": "online"}]
	}`))

	member, err := client.store.Member("g1", "u1")
	if err != nil {
		t.Fatalf("expected member to be cached: %v", err)
	}
	if member.Presence == nil || member.Presence.Status != discord.StatusOnline {
		t.Fatal("expected the chunk presence to be attached to the member")
	}

	select {
	case res := <-result:
		if res.Partial || len(res.Members) != 1 {
			t.Fatalf("unexpected chunk result: %+v", res)
		}
	case <-time.After(time.Second):
		t.Fatal("chunk request never resolved")
	}

	if got := client.emittedEvents(EventGuildMemberChunk); len(got) != 1 {
		t.Fatalf("expected one guildMemberChunk event, got %d", len(got))
	}
}

func TestDispatchReactions(t *testing.T) {
	shard, client := newTestShard(t)

	shard.startupMu.Lock()
	shard.selfUserID = "bot"
	shard.startupMu.Unlock()

	_ = client.store.ChannelAdd(&discord.Channel{ID: "c1"})
	_ = client.store.MessageAdd(&discord.Message{ID: "m1", ChannelID: "c1"})

	shard.onDispatch(dispatchPacket(1, "MESSAGE_REACTION_ADD", `{"user_id": "u1", "channel_id": "c1", "message_id": "m1", "emoji": {"id": "", "name": "👍"}}`))
	shard.onDispatch(dispatchPacket(2, "MESSAGE_REACTION_ADD", `{"user_id": "bot", "channel_id": "c1", "message_id": "m1", "emoji": {"id": "", "name": "👍"}}`))

	message, err := client.store.Message("c1", "m1")
	if err != nil {
		t.Fatalf("message missing: %v", err)
	}

	reaction := message.Reactions["👍"]
	if reaction == nil || reaction.Count != 2 || !reaction.Me {
		t.Fatalf("unexpected reaction state: %+v", reaction)
	}

	shard.onDispatch(dispatchPacket(3, "MESSAGE_REACTION_REMOVE", `{"user_id": "bot", "channel_id": "c1", "message_id": "m1", "emoji": {"id": "", "name": "👍"}}`))

	message, _ = client.store.Message("c1", "m1")
	reaction = message.Reactions["👍"]
	if reaction == nil || reaction.Count != 1 || reaction.Me {
		t.Fatalf("unexpected reaction state after remove: %+v", reaction)
	}

	// The tally disappears once the count hits zero.
	shard.onDispatch(dispatchPacket(4, "MESSAGE_REACTION_REMOVE", `{"user_id": "u1", "channel_id": "c1", "message_id": "m1", "emoji": {"id": "", "name": "👍"}}`))

	message, _ = client.store.Message("c1", "m1")
	if _, ok := message.Reactions["👍"]; ok {
		t.Fatal("expected the zero count reaction to be dropped")
	}
}

func TestDispatchReactionRemoveAll(t *testing.T) {
	shard, client := newTestShard(t)

	_ = client.store.ChannelAdd(&discord.Channel{ID: "c1"})
	_ = client.store.MessageAdd(&discord.Message{
		ID: "m1", ChannelID: "c1",
		Reactions: map[string]*discord.Reaction{"👍": {Count: 4}},
	})

	shard.onDispatch(dispatchPacket(1, "MESSAGE_REACTION_REMOVE_ALL", `{"channel_id": "c1", "message_id": "m1"}`))

	message, _ := client.store.Message("c1", "m1")
	if len(message.Reactions) != 0 {
		t.Fatalf("expected reactions to be cleared, got %+v", message.Reactions)
	}
}

func TestDispatchVoiceStateMoves(t *testing.T) {
	shard, client := newTestShard(t)

	_ = client.store.ChannelAdd(&discord.Channel{ID: "v1", GuildID: "g1", Type: discord.ChannelTypeGuildVoice})
	_ = client.store.ChannelAdd(&discord.Channel{ID: "v2", GuildID: "g1", Type: discord.ChannelTypeGuildVoice})

	shard.onDispatch(dispatchPacket(1, "VOICE_STATE_UPDATE", `{"guild_id": "g1", "channel_id": "v1", "user_id": "u1", "session_id": "s"}`))

	joins := client.emittedEvents(EventVoiceChannelJoin)
	if len(joins) != 1 {
		t.Fatalf("expected one join, got %d", len(joins))
	}
	if move := joins[0].(*VoiceChannelMove); move.ChannelID != "v1" {
		t.Fatalf("unexpected join payload: %+v", move)
	}

	shard.onDispatch(dispatchPacket(2, "VOICE_STATE_UPDATE", `{"guild_id": "g1", "channel_id": "v2", "user_id": "u1", "session_id": "s"}`))

	switches := client.emittedEvents(EventVoiceChannelSwitch)
	if len(switches) != 1 {
		t.Fatalf("expected one switch, got %d", len(switches))
	}
	if move := switches[0].(*VoiceChannelMove); move.OldChannelID != "v1" || move.ChannelID != "v2" {
		t.Fatalf("unexpected switch payload: %+v", move)
	}

	shard.onDispatch(dispatchPacket(3, "VOICE_STATE_UPDATE", `{"guild_id": "g1", "channel_id": "", "user_id": "u1", "session_id": "s"}`))

	leaves := client.emittedEvents(EventVoiceChannelLeave)
	if len(leaves) != 1 {
		t.Fatalf("expected one leave, got %d", len(leaves))
	}

	if _, err := client.store.VoiceState("g1", "u1"); err != state.ErrNotFound {
		t.Fatal("expected voice state to be removed after leaving")
	}
}

func TestDispatchMessageLifecycle(t *testing.T) {
	shard, client := newTestShard(t)

	_ = client.store.ChannelAdd(&discord.Channel{ID: "c1"})

	shard.onDispatch(dispatchPacket(1, "MESSAGE_CREATE", `{
		"id": "m1", "channel_id": "c1",
		"author": {"id": "u1", "username": "writer"},
		"content": "hello"
	}`))

	if _, err := client.store.Message("c1", "m1"); err != nil {
		t.Fatalf("expected message to be cached: %v", err)
	}
	if _, err := client.store.User("u1"); err != nil {
		t.Fatalf("expected author to be cached: %v", err)
	}

	shard.onDispatch(dispatchPacket(2, "MESSAGE_UPDATE", `{"id": "m1", "channel_id": "c1", "content": "edited"}`))

	message, _ := client.store.Message("c1", "m1")
	if message.Content != "edited" {
		t.Fatalf("expected edited content, got %q", message.Content)
	}
	if message.Author == nil || message.Author.ID != "u1" {
		t.Fatal("expected the author to survive a partial update")
	}

	shard.onDispatch(dispatchPacket(3, "MESSAGE_DELETE", `{"id": "m1", "channel_id": "c1"}`))

	if _, err := client.store.Message("c1", "m1"); err != state.ErrNotFound {
		t.Fatal("expected message to be removed")
	}
}

func TestDispatchRolesAndEmojis(t *testing.T) {
	shard, client := newTestShard(t)

	_ = client.store.GuildAdd(&discord.Guild{ID: "g1"})

	shard.onDispatch(dispatchPacket(1, "GUILD_ROLE_CREATE", `{"guild_id": "g1", "role": {"id": "r1", "name": "mods"}}`))

	guild, _ := client.store.Guild("g1")
	if len(guild.Roles) != 1 || guild.Roles[0].Name != "mods" {
		t.Fatalf("expected role to be cached, got %+v", guild.Roles)
	}

	shard.onDispatch(dispatchPacket(2, "GUILD_ROLE_DELETE", `{"guild_id": "g1", "role_id": "r1"}`))

	guild, _ = client.store.Guild("g1")
	if len(guild.Roles) != 0 {
		t.Fatal("expected role to be removed")
	}

	shard.onDispatch(dispatchPacket(3, "GUILD_EMOJIS_UPDATE", `{"guild_id": "g1", "emojis": [{"id": "e1", "name": "blob"}]}`))

	guild, _ = client.store.Guild("g1")
	if len(guild.Emojis) != 1 || guild.Emojis[0].Name != "blob" {
		t.Fatalf("expected emojis to be replaced, got %+v", guild.Emojis)
	}
}

func TestDispatchBansOnlyEmit(t *testing.T) {
	shard, client := newTestShard(t)

	_ = client.store.GuildAdd(&discord.Guild{ID: "g1"})
	_ = client.store.MemberAdd(&discord.Member{GuildID: "g1", User: &discord.User{ID: "u1"}})

	shard.onDispatch(dispatchPacket(1, "GUILD_BAN_ADD", `{"guild_id": "g1", "user": {"id": "u1"}}`))

	if got := client.emittedEvents(EventGuildBanAdd); len(got) != 1 {
		t.Fatalf("expected one guildBanAdd, got %d", len(got))
	}

	// The cache is untouched; GUILD_MEMBER_REMOVE does the eviction.
	if _, err := client.store.Member("g1", "u1"); err != nil {
		t.Fatal("expected the member to still be cached after a ban event")
	}

	shard.onDispatch(dispatchPacket(2, "GUILD_MEMBER_REMOVE", `{"guild_id": "g1", "user": {"id": "u1"}}`))

	if _, err := client.store.Member("g1", "u1"); err != state.ErrNotFound {
		t.Fatal("expected the member to be evicted by the remove dispatch")
	}
}

func TestDispatchThreads(t *testing.T) {
	shard, client := newTestShard(t)

	shard.onDispatch(dispatchPacket(1, "THREAD_CREATE", `{"id": "t1", "guild_id": "g1", "type": 11, "name": "talk"}`))

	if guildID, ok := client.store.ThreadGuild("t1"); !ok || guildID != "g1" {
		t.Fatal("expected thread routing to be recorded")
	}

	shard.onDispatch(dispatchPacket(2, "THREAD_DELETE", `{"id": "t1", "guild_id": "g1", "type": 11}`))

	if _, ok := client.store.ThreadGuild("t1"); ok {
		t.Fatal("expected thread routing to be removed")
	}
}

func TestDispatchResumed(t *testing.T) {
	shard, client := newTestShard(t)

	shard.session.SetSession("sess", "wss://resume.discord.gg")
	shard.session.SetSequence(120)
	shard.session.SetStatus(StatusResuming)

	shard.onDispatch(dispatchPacket(0, "RESUMED", `null`))

	if shard.Status() != StatusReady {
		t.Fatalf("expected shard to be ready after resume, got %s", shard.Status())
	}
	if got := client.emittedEvents(EventShardResume); len(got) != 1 {
		t.Fatalf("expected one resume event, got %d", len(got))
	}
	if got := shard.session.Sequence(); got != 120 {
		t.Fatalf("expected the sequence to survive a resume, got %d", got)
	}
}

func TestDispatchMemberChunkMarksConnectionAlive(t *testing.T) {
	shard, _ := newTestShard(t)

	shard.session.HeartbeatSent(time.Now())
	if shard.session.Acked() {
		t.Fatal("expected an outstanding heartbeat")
	}

	shard.onDispatch(dispatchPacket(1, "GUILD_MEMBERS_CHUNK", `{
		"guild_id": "g1",
		"members": [],
		"chunk_index": 0,
		"chunk_count": 1
	}`))

	if !shard.session.Acked() {
		t.Fatal("expected a chunk to count as heartbeat liveness")
	}
}

func TestDispatchVoiceStateUpdatesMemberFlags(t *testing.T) {
	shard, client := newTestShard(t)

	if err := client.store.MemberAdd(&discord.Member{
		GuildID: "g1",
		User:    &discord.User{ID: "u1"},
	}); err != nil {
		t.Fatalf("seeding member: %v", err)
	}

	shard.onDispatch(dispatchPacket(1, "VOICE_STATE_UPDATE", `{
		"guild_id": "g1",
		"channel_id": "c1",
		"user_id": "u1",
		"deaf": true,
		"mute": true
	}`))

	member, err := client.store.Member("g1", "u1")
	if err != nil {
		t.Fatalf("fetching member: %v", err)
	}
	if !member.Deaf || !member.Mute {
		t.Fatalf("expected deaf/mute to follow the voice state, got %+v", member)
	}
}

func TestDispatchGuildCreateUnavailable(t *testing.T) {
	shard, client := newTestShard(t)

	shard.onDispatch(dispatchPacket(1, "GUILD_CREATE", `{"id": "g9", "unavailable": true}`))

	if !client.store.IsUnavailable("g9") {
		t.Fatal("expected the guild to be marked unavailable")
	}
	if _, err := client.store.Guild("g9"); err == nil {
		t.Fatal("expected no cached guild")
	}
	if got := client.emittedEvents(EventGuildUnavailable); len(got) != 1 {
		t.Fatalf("expected one guildUnavailable event, got %d", len(got))
	}
}

func TestDispatchSequenceNeverRegresses(t *testing.T) {
	shard, _ := newTestShard(t)

	shard.onDispatch(dispatchPacket(5, "TYPING_START", `{"channel_id": "c1", "user_id": "u1"}`))
	shard.onDispatch(dispatchPacket(3, "TYPING_START", `{"channel_id": "c1", "user_id": "u1"}`))

	if got := shard.session.Sequence(); got != 5 {
		t.Fatalf("expected the stored sequence to stay at the maximum seen, got %d", got)
	}
}
