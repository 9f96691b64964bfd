package gondola

import (
	"fmt"
	"os"

	"github.com/pastaland/gondola/discord"
)

// Config represents all configurable elements of a producer.
type Config struct {
	// Identity is prepended to produced events so consumers can tell
	// producers apart.
	Identity string `json:"identity"`
	Token    string `json:"token"`

	// Autoshard uses the shard count recommended by the gateway.
	// ShardCount is ignored when it is enabled.
	Autoshard  bool `json:"autoshard"`
	ShardCount int  `json:"shard_count"`

	Intents        discord.Intent `json:"intents"`
	Compress       bool           `json:"compress"`
	LargeThreshold int            `json:"large_threshold"`
	GetAllUsers    bool           `json:"get_all_users"`

	// Redis cache. An empty address keeps the cache in process memory.
	RedisAddress  string `json:"redis_address"`
	RedisPassword string `json:"redis_password"`
	RedisDatabase int    `json:"redis_database"`

	// RedisPrefix is prepended to every cache key.
	RedisPrefix string `json:"redis_prefix"`

	// ClearCache empties the redis cache on startup.
	ClearCache bool `json:"clear_cache"`

	// MaxMessages bounds how many messages are cached per channel.
	MaxMessages int `json:"max_messages"`

	// Configuration for NATS streaming.
	NatsAddress string `json:"nats_address"`
	NatsChannel string `json:"nats_channel"`
	ClusterID   string `json:"nats_cluster"`
	ClientID    string `json:"nats_client"`

	// IgnoredEvents are dropped entirely, cache and all.
	IgnoredEvents []string `json:"ignored"`

	// ProducerBlacklist events are cached but never relayed to
	// consumers.
	ProducerBlacklist []string `json:"blacklist"`
}

// LoadConfig reads a JSON configuration file.
func LoadConfig(path string) (*Config, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	config := &Config{}
	if err = json.Unmarshal(body, config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if config.Token == "" {
		return nil, fmt.Errorf("config: token is required")
	}

	if config.MaxMessages <= 0 {
		config.MaxMessages = 100
	}

	return config, nil
}

// belongsToList reports whether entry is present in list.
func belongsToList(list []string, entry string) bool {
	for _, item := range list {
		if item == entry {
			return true
		}
	}

	return false
}
