package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// SeedPeer is one entry in a seed-peers file: a device a node should try
// to connect to at startup, independent of mDNS discovery.
type SeedPeer struct {
	Address     string `yaml:"address"`
	DisplayName string `yaml:"display_name"`
}

// LoadSeedPeers reads a YAML file of seed peers from path. A missing file
// is not an error; it yields an empty list, since seeding is optional.
func LoadSeedPeers(path string) ([]SeedPeer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var peers []SeedPeer
	if err := yaml.Unmarshal(data, &peers); err != nil {
		return nil, err
	}
	return peers, nil
}
