package core

import "time"

// SynchronizerConfig holds the options named in §6. Zero values are not
// valid configuration; use DefaultSynchronizerConfig and override fields.
type SynchronizerConfig struct {
	AnnounceNewBlocks     bool `mapstructure:"announce_new_blocks" yaml:"announce_new_blocks"`
	AutoRequestMissing    bool `mapstructure:"auto_request_missing" yaml:"auto_request_missing"`
	MaxConcurrentRequests int  `mapstructure:"max_concurrent_requests" yaml:"max_concurrent_requests"`
}

// DefaultSynchronizerConfig returns the defaults from §6:
// announceNewBlocks=true, autoRequestMissing=true, maxConcurrentRequests=10.
func DefaultSynchronizerConfig() SynchronizerConfig {
	return SynchronizerConfig{
		AnnounceNewBlocks:     true,
		AutoRequestMissing:    true,
		MaxConcurrentRequests: 10,
	}
}

// PeerManagerConfig holds the options named in §6.
type PeerManagerConfig struct {
	AutoConnect          bool          `mapstructure:"auto_connect" yaml:"auto_connect"`
	MaxConnections       int           `mapstructure:"max_connections" yaml:"max_connections"`
	HandshakeTimeout     time.Duration `mapstructure:"handshake_timeout" yaml:"handshake_timeout"`
	DiscoveryInterval    time.Duration `mapstructure:"discovery_interval" yaml:"discovery_interval"`
	HealthCheckInterval  time.Duration `mapstructure:"health_check_interval" yaml:"health_check_interval"`
	ReconnectDelay       time.Duration `mapstructure:"reconnect_delay" yaml:"reconnect_delay"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts" yaml:"max_reconnect_attempts"`
}

// DefaultPeerManagerConfig returns conservative defaults grounded on the
// teacher's SyncManager/ReplicationConfig retry cadence.
func DefaultPeerManagerConfig() PeerManagerConfig {
	return PeerManagerConfig{
		AutoConnect:          true,
		MaxConnections:       32,
		HandshakeTimeout:     30 * time.Second,
		DiscoveryInterval:    30 * time.Second,
		HealthCheckInterval:  15 * time.Second,
		ReconnectDelay:       5 * time.Second,
		MaxReconnectAttempts: 3,
	}
}
