// Package config loads the process level configuration of a kvnode from a YAML file,
// environment variables and flags.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jmsadair/raftkv"
	"github.com/jmsadair/raftkv/logging"
)

// Environment variables that override values from the configuration file.
const (
	EnvAddress     = "RAFTKV_ADDRESS"
	EnvNodes       = "RAFTKV_NODES"
	EnvHTTPAddress = "RAFTKV_HTTP_ADDRESS"
	EnvLogLevel    = "RAFTKV_LOG_LEVEL"
)

// Duration is a time.Duration written as a string such as "300ms" in YAML.
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var text string
	if err := value.Decode(&text); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(text)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML encodes the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Member is a member of the cluster.
type Member struct {
	ID          string `yaml:"id"`
	RaftAddress string `yaml:"raftAddress"`
	HTTPAddress string `yaml:"httpAddress,omitempty"`
}

// Config is the configuration of a single kvnode.
type Config struct {
	// The ID of this node.
	ID string `yaml:"id"`

	// The address the node serves consensus RPCs on.
	RaftAddress string `yaml:"raftAddress"`

	// The address the node serves the HTTP API on.
	HTTPAddress string `yaml:"httpAddress"`

	// Every member of the cluster. This node may be listed.
	Members []Member `yaml:"members"`

	// Zero durations leave the library defaults in place.
	ElectionTimeout   Duration `yaml:"electionTimeout,omitempty"`
	HeartbeatInterval Duration `yaml:"heartbeatInterval,omitempty"`
	RPCTimeout        Duration `yaml:"rpcTimeout,omitempty"`
	CommitTimeout     Duration `yaml:"commitTimeout,omitempty"`

	LogLevel        string `yaml:"logLevel,omitempty"`
	VoteRule        string `yaml:"voteRule,omitempty"`
	StrictBootstrap bool   `yaml:"strictBootstrap,omitempty"`
}

// Load reads the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML configuration.
func Parse(data []byte) (*Config, error) {
	var config Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&config); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &config, nil
}

// ApplyEnv overrides the configuration with any environment variables that are set.
// RAFTKV_NODES is a comma separated list of raft addresses that replaces the members;
// each member is identified by its address, except this node which keeps its ID.
func (c *Config) ApplyEnv() {
	c.applyEnv(os.Getenv)
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv(EnvAddress); v != "" {
		c.RaftAddress = v
		if c.ID == "" {
			c.ID = v
		}
	}
	if v := getenv(EnvNodes); v != "" {
		c.Members = nil
		for _, address := range strings.Split(v, ",") {
			address = strings.TrimSpace(address)
			if address == "" {
				continue
			}
			id := address
			if address == c.RaftAddress && c.ID != "" {
				id = c.ID
			}
			c.Members = append(c.Members, Member{ID: id, RaftAddress: address})
		}
	}
	if v := getenv(EnvHTTPAddress); v != "" {
		c.HTTPAddress = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
}

// Validate checks that the configuration describes a usable node.
func (c *Config) Validate() error {
	if c.ID == "" {
		return errors.New("id is required")
	}
	if c.RaftAddress == "" {
		return errors.New("raft address is required")
	}

	ids := make(map[string]bool, len(c.Members))
	addresses := make(map[string]bool, len(c.Members))
	for _, member := range c.Members {
		if member.ID == "" || member.RaftAddress == "" {
			return fmt.Errorf("member %q must have an id and a raft address", member.ID)
		}
		if ids[member.ID] {
			return fmt.Errorf("duplicate member id %q", member.ID)
		}
		if addresses[member.RaftAddress] {
			return fmt.Errorf("duplicate member raft address %q", member.RaftAddress)
		}
		if member.ID == c.ID && member.RaftAddress != c.RaftAddress {
			return fmt.Errorf("member %q has raft address %s but the node is configured with %s",
				member.ID, member.RaftAddress, c.RaftAddress)
		}
		if member.ID != c.ID && member.RaftAddress == c.RaftAddress {
			return fmt.Errorf("member %q has the raft address of this node", member.ID)
		}
		ids[member.ID] = true
		addresses[member.RaftAddress] = true
	}

	if c.ElectionTimeout < 0 || c.HeartbeatInterval < 0 || c.RPCTimeout < 0 || c.CommitTimeout < 0 {
		return errors.New("durations must not be negative")
	}
	if c.ElectionTimeout != 0 && c.HeartbeatInterval != 0 && c.HeartbeatInterval >= c.ElectionTimeout {
		return errors.New("heartbeat interval must be less than election timeout")
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if _, err := raft.ParseVoteRule(c.VoteRule); err != nil {
		return err
	}
	return nil
}

// Peers returns the raft address of every member by ID, including this node.
func (c *Config) Peers() map[string]string {
	peers := make(map[string]string, len(c.Members)+1)
	for _, member := range c.Members {
		peers[member.ID] = member.RaftAddress
	}
	peers[c.ID] = c.RaftAddress
	return peers
}

// HTTPAddresses returns the HTTP address of every member that has one by ID.
func (c *Config) HTTPAddresses() map[string]string {
	addresses := make(map[string]string, len(c.Members)+1)
	for _, member := range c.Members {
		if member.HTTPAddress != "" {
			addresses[member.ID] = member.HTTPAddress
		}
	}
	if c.HTTPAddress != "" {
		addresses[c.ID] = c.HTTPAddress
	}
	return addresses
}

// HTTPAddressOf returns the HTTP address of the member with the provided ID, or an
// empty string if it is unknown.
func (c *Config) HTTPAddressOf(id string) string {
	return c.HTTPAddresses()[id]
}

// RaftOptions converts the configuration into options for raft.NewRaft.
func (c *Config) RaftOptions() ([]raft.Option, error) {
	var opts []raft.Option
	if c.ElectionTimeout != 0 {
		opts = append(opts, raft.WithElectionTimeout(time.Duration(c.ElectionTimeout)))
	}
	if c.HeartbeatInterval != 0 {
		opts = append(opts, raft.WithHeartbeatInterval(time.Duration(c.HeartbeatInterval)))
	}
	if c.RPCTimeout != 0 {
		opts = append(opts, raft.WithRPCTimeout(time.Duration(c.RPCTimeout)))
	}
	if c.CommitTimeout != 0 {
		opts = append(opts, raft.WithCommitTimeout(time.Duration(c.CommitTimeout)))
	}
	rule, err := raft.ParseVoteRule(c.VoteRule)
	if err != nil {
		return nil, err
	}
	opts = append(opts, raft.WithVoteRule(rule))
	if c.StrictBootstrap {
		opts = append(opts, raft.WithStrictBootstrap())
	}
	return opts, nil
}
