// Package config provides a reusable loader for dagmesh configuration files
// and environment variables. It is versioned so that applications can depend
// on a stable API contract.
//
// Version: v0.1.0
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"dagmesh/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config represents the unified configuration for a dagmesh node. It
// mirrors the structure of the YAML files under cmd/config.
type Config struct {
	Synchronizer struct {
		AnnounceNewBlocks      bool `mapstructure:"announce_new_blocks" json:"announce_new_blocks"`
		AutoRequestMissing     bool `mapstructure:"auto_request_missing" json:"auto_request_missing"`
		MaxConcurrentRequests  int  `mapstructure:"max_concurrent_requests" json:"max_concurrent_requests"`
	} `mapstructure:"synchronizer" json:"synchronizer"`

	PeerManager struct {
		AutoConnect          bool          `mapstructure:"auto_connect" json:"auto_connect"`
		MaxConnections       int           `mapstructure:"max_connections" json:"max_connections"`
		HandshakeTimeout     time.Duration `mapstructure:"handshake_timeout" json:"handshake_timeout"`
		DiscoveryInterval    time.Duration `mapstructure:"discovery_interval" json:"discovery_interval"`
		HealthCheckInterval  time.Duration `mapstructure:"health_check_interval" json:"health_check_interval"`
		ReconnectDelay       time.Duration `mapstructure:"reconnect_delay" json:"reconnect_delay"`
		MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts" json:"max_reconnect_attempts"`
	} `mapstructure:"peer_manager" json:"peer_manager"`

	Transport struct {
		Kind         string   `mapstructure:"kind" json:"kind"` // "memory" or "libp2p"
		ListenAddr   string   `mapstructure:"listen_addr" json:"listen_addr"`
		DiscoveryTag string   `mapstructure:"discovery_tag" json:"discovery_tag"`
		BootstrapAddrs []string `mapstructure:"bootstrap_addrs" json:"bootstrap_addrs"`
	} `mapstructure:"transport" json:"transport"`

	Store struct {
		CacheCapacity int `mapstructure:"cache_capacity" json:"cache_capacity"`
	} `mapstructure:"store" json:"store"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and returned.
//
// The function uses the provided environment name to merge additional config
// files. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv() // overlays matching environment variables

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}

	// DAGMESH_CACHE_CAPACITY overrides the loaded cache size directly, since
	// viper's AutomaticEnv does not bind dotted keys like store.cache_capacity
	// to a flat env var name on its own.
	AppConfig.Store.CacheCapacity = utils.EnvOrDefaultInt("DAGMESH_CACHE_CAPACITY", AppConfig.Store.CacheCapacity)

	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the DAGMESH_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("DAGMESH_ENV", ""))
}
