// Package config loads storage node configuration from a YAML file,
// the way the teacher's CLI applies YAML resource files.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/docvault/storagenode/pkg/log"
	"github.com/docvault/storagenode/pkg/node"
	"github.com/docvault/storagenode/pkg/types"
)

// File is the on-disk shape of a node configuration file.
type File struct {
	DataDir      string `yaml:"data_dir"`
	NetworkID    uint64 `yaml:"network_id"`
	AdminAddress string `yaml:"admin_address"`

	ListenHTTP string `yaml:"listen_http"`
	ListenGRPC string `yaml:"listen_grpc"`

	BlockInterval string `yaml:"block_interval"`

	EnableDocStore bool `yaml:"enable_doc_store"`
	EnableGC       bool `yaml:"enable_gc"`

	ArchiveEndpoint string `yaml:"archive_endpoint"`
	ArchiveBucket   string `yaml:"archive_bucket"`

	RollupInterval string `yaml:"rollup_interval"`
	MinRollupSize  uint64 `yaml:"min_rollup_size"`
	ArchiveURL     string `yaml:"archive_url"`
	NodeURL        string `yaml:"node_url"`

	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`
}

// Config is the parsed, validated configuration used to wire a node
// and its transport servers.
type Config struct {
	Node node.Config

	ListenHTTP string
	ListenGRPC string

	LogLevel log.Level
	LogJSON  bool
}

// Load reads and parses a YAML configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return f.resolve()
}

func (f File) resolve() (*Config, error) {
	if f.DataDir == "" {
		return nil, fmt.Errorf("data_dir is required")
	}
	admin, err := types.AddressFromHex(f.AdminAddress)
	if err != nil {
		return nil, fmt.Errorf("admin_address: %w", err)
	}

	blockInterval, err := parseDurationOrDefault(f.BlockInterval, time.Second)
	if err != nil {
		return nil, fmt.Errorf("block_interval: %w", err)
	}
	rollupInterval, err := parseDurationOrDefault(f.RollupInterval, time.Minute)
	if err != nil {
		return nil, fmt.Errorf("rollup_interval: %w", err)
	}

	listenHTTP := f.ListenHTTP
	if listenHTTP == "" {
		listenHTTP = "127.0.0.1:8080"
	}
	listenGRPC := f.ListenGRPC
	if listenGRPC == "" {
		listenGRPC = "127.0.0.1:9090"
	}

	logLevel := log.Level(f.LogLevel)
	if logLevel == "" {
		logLevel = log.InfoLevel
	}

	return &Config{
		Node: node.Config{
			DataDir:        f.DataDir,
			NetworkID:      f.NetworkID,
			AdminAddress:   admin,
			BlockInterval:  blockInterval,
			EnableDocStore: f.EnableDocStore,
			EnableGC:       f.EnableGC,

			ArchiveEndpoint: f.ArchiveEndpoint,
			ArchiveBucket:   f.ArchiveBucket,

			DefaultSystemConfig: types.SystemConfig{
				RollupInterval: rollupInterval,
				MinRollupSize:  f.MinRollupSize,
				NetworkID:      f.NetworkID,
				ArchiveURL:     f.ArchiveURL,
				NodeURL:        f.NodeURL,
			},
		},
		ListenHTTP: listenHTTP,
		ListenGRPC: listenGRPC,
		LogLevel:   logLevel,
		LogJSON:    f.LogJSON,
	}, nil
}

func parseDurationOrDefault(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	return time.ParseDuration(s)
}
