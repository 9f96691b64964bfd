package gateway

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/pastaland/gondola/discord"
)

// MemberChunkResult is what a member request resolves with. Partial is
// set when the request timed out or the session ended before every chunk
// arrived.
type MemberChunkResult struct {
	GuildID  string
	Members  []*discord.Member
	NotFound []string
	Partial  bool
}

// memberAccumulator collects the chunks belonging to one request nonce.
type memberAccumulator struct {
	guildID  string
	members  []*discord.Member
	notFound []string

	received int
	total    int

	timeout time.Duration
	timer   *time.Timer
	result  chan *MemberChunkResult
}

// chunkTable correlates GUILD_MEMBERS_CHUNK dispatches back to the
// requests that caused them, keyed by nonce.
type chunkTable struct {
	mu      sync.Mutex
	pending map[string]*memberAccumulator
}

func newChunkTable() *chunkTable {
	return &chunkTable{pending: make(map[string]*memberAccumulator)}
}

// newNonce returns a 128 bit random hex string used to tie chunks to a
// request.
func newNonce() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)

	return hex.EncodeToString(buf)
}

// add registers an accumulator for a nonce and arms its timeout. The
// returned channel receives exactly one result.
func (t *chunkTable) add(nonce, guildID string, timeout time.Duration) <-chan *MemberChunkResult {
	acc := &memberAccumulator{
		guildID: guildID,
		timeout: timeout,
		result:  make(chan *MemberChunkResult, 1),
	}

	t.mu.Lock()
	t.pending[nonce] = acc
	t.mu.Unlock()

	acc.timer = time.AfterFunc(timeout, func() {
		t.resolve(nonce, true)
	})

	return acc.result
}

// accumulate folds one chunk into its accumulator and resolves the
// request once every chunk has arrived. Returns false when the nonce is
// unknown (request already resolved, or chunk initiated elsewhere).
func (t *chunkTable) accumulate(chunk *discord.GuildMembersChunk) bool {
	t.mu.Lock()
	acc, ok := t.pending[chunk.Nonce]
	if !ok {
		t.mu.Unlock()

		return false
	}

	// Every chunk that arrives proves the request is still being served,
	// so the timeout is counted from the last chunk rather than the
	// request.
	if acc.timer != nil {
		acc.timer.Stop()
		acc.timer.Reset(acc.timeout)
	}

	acc.members = append(acc.members, chunk.Members...)
	acc.notFound = append(acc.notFound, chunk.NotFound...)
	acc.received++
	acc.total = chunk.ChunkCount

	done := acc.received >= acc.total
	t.mu.Unlock()

	if done {
		t.resolve(chunk.Nonce, false)
	}

	return true
}

// resolve removes a pending request and delivers its accumulated result.
func (t *chunkTable) resolve(nonce string, partial bool) {
	t.mu.Lock()
	acc, ok := t.pending[nonce]
	if ok {
		delete(t.pending, nonce)
	}
	t.mu.Unlock()

	if !ok {
		return
	}

	if acc.timer != nil {
		acc.timer.Stop()
	}

	acc.result <- &MemberChunkResult{
		GuildID:  acc.guildID,
		Members:  acc.members,
		NotFound: acc.notFound,
		Partial:  partial,
	}
}

// reset resolves every pending request with whatever members have
// arrived so far. Called when the session ends without a resume.
func (t *chunkTable) reset() {
	t.mu.Lock()
	nonces := make([]string, 0, len(t.pending))
	for nonce := range t.pending {
		nonces = append(nonces, nonce)
	}
	t.mu.Unlock()

	for _, nonce := range nonces {
		t.resolve(nonce, true)
	}
}

// MemberRequest describes one REQUEST_GUILD_MEMBERS call. Leave Query
// and UserIDs empty to request every member of the guild.
type MemberRequest struct {
	GuildID   string
	Query     *string
	Limit     int
	UserIDs   []string
	Presences bool

	// Timeout bounds how long to wait for chunks; the client default is
	// used when zero.
	Timeout time.Duration
}

// RequestGuildMembers asks the gateway for the members of a guild and
// blocks until every chunk has arrived or the timeout fires. On timeout
// the members received so far are returned with Partial set.
func (s *Shard) RequestGuildMembers(req MemberRequest) (*MemberChunkResult, error) {
	opts := s.client.Options()

	wantsAll := req.Query == nil && len(req.UserIDs) == 0
	if wantsAll && !opts.Intents.Has(discord.IntentGuildMembers) {
		return nil, ErrMissingMembersIntent
	}
	if req.Presences && !opts.Intents.Has(discord.IntentGuildPresences) {
		return nil, ErrMissingPresencesIntent
	}
	if len(req.UserIDs) > maxRequestMembersUserIDs {
		return nil, ErrTooManyUserIDs
	}

	if s.Status() != StatusReady {
		return nil, ErrWSNotOpen
	}

	payload := discord.RequestGuildMembers{
		GuildID:   req.GuildID,
		Limit:     req.Limit,
		UserIDs:   req.UserIDs,
		Presences: req.Presences,
		Nonce:     newNonce(),
	}

	if wantsAll {
		// Requesting everyone: empty query, no limit.
		empty := ""
		payload.Query = &empty
		payload.Limit = 0
	} else {
		payload.Query = req.Query
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = opts.RequestTimeout
	}

	result := s.chunks.add(payload.Nonce, req.GuildID, timeout)

	s.sendOp(OpRequestGuildMembers, payload, false)

	return <-result, nil
}
