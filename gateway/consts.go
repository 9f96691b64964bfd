// Package gateway implements a single Discord gateway shard: a long-lived
// websocket session with identify/resume semantics, heartbeating,
// rate-limited sends and a dispatch pipeline feeding the state cache.
package gateway

import (
	"time"

	jsoniter "github.com/json-iterator/go"
)

// VERSION of gondola, following Semantic Versioning.
const VERSION = "0.2"

// GatewayVersion is the Discord gateway API version spoken by this package.
const GatewayVersion = "10"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// GatewayOp is a gateway packet opcode.
type GatewayOp int

// Gateway opcodes.
const (
	OpDispatch GatewayOp = iota
	OpHeartbeat
	OpIdentify
	OpPresenceUpdate
	OpVoiceStateUpdate
	_
	OpResume
	OpReconnect
	OpRequestGuildMembers
	OpInvalidSession
	OpHello
	OpHeartbeatACK
)

// Gateway close codes.
const (
	CloseUnknownError         = 4000
	CloseUnknownOpcode        = 4001
	CloseDecodeError          = 4002
	CloseNotAuthenticated     = 4003
	CloseAuthenticationFailed = 4004
	CloseAlreadyAuthenticated = 4005
	CloseInvalidSequence      = 4007
	CloseRateLimited          = 4008
	CloseSessionTimeout       = 4009
	CloseInvalidShard         = 4010
	CloseShardingRequired     = 4011
	CloseInvalidAPIVersion    = 4012
	CloseInvalidIntents       = 4013
	CloseDisallowedIntents    = 4014

	// closeCodeReconnect is sent when we tear a resumable session down
	// on purpose; anything outside the 1000/1001 range keeps the session
	// alive server side.
	closeCodeReconnect = 4999
)

// Status is the connection status of a shard.
type Status string

// Shard statuses.
const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusHandshaking  Status = "handshaking"
	StatusIdentifying  Status = "identifying"
	StatusResuming     Status = "resuming"
	StatusReady        Status = "ready"
)

const (
	// Global gateway send budget: 120 frames per 60 seconds, with 5
	// slots reserved for priority traffic (heartbeats).
	globalBucketLimit    = 120
	globalBucketInterval = 60 * time.Second
	globalBucketReserved = 5

	// Presence updates have their own budget of 5 per 20 seconds.
	presenceBucketLimit    = 5
	presenceBucketInterval = 20 * time.Second

	defaultConnectTimeout     = 30 * time.Second
	defaultGuildCreateTimeout = 2 * time.Second
	defaultRequestTimeout     = 15 * time.Second
	defaultLargeThreshold     = 250
	defaultMaxReconnectTries  = 5
	initialReconnectInterval  = 1 * time.Second
	maxReconnectInterval      = 30 * time.Second
	maxRequestMembersUserIDs  = 100
)
