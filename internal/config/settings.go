package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSettingsPath is the path to the canonical daemon defaults file.
const DefaultSettingsPath = "config/moenet.defaults.json"

// Transports understood by the daemon.
const (
	TransportMemory = "memory"
	TransportNATS   = "nats"
)

// Settings configures the moenet daemon. Every field is optional; the Get*
// methods supply defaults for fields the file leaves out.
type Settings struct {
	// HTTP and gRPC listeners
	Listen     *string `json:"listen,omitempty" yaml:"listen,omitempty"`
	GRPCListen *string `json:"grpc_listen,omitempty" yaml:"grpc_listen,omitempty"`

	// Transport
	Transport   *string `json:"transport,omitempty" yaml:"transport,omitempty"`
	NATSURL     *string `json:"nats_url,omitempty" yaml:"nats_url,omitempty"`
	NATSBucket  *string `json:"nats_bucket,omitempty" yaml:"nats_bucket,omitempty"`
	NATSTimeout *string `json:"nats_timeout,omitempty" yaml:"nats_timeout,omitempty"` // duration string like "2s"

	// Links
	Tables       []string `json:"tables,omitempty" yaml:"tables,omitempty"`
	TickInterval *string  `json:"tick_interval,omitempty" yaml:"tick_interval,omitempty"` // duration string like "20ms"
	RemoteConfig *string  `json:"remote_config,omitempty" yaml:"remote_config,omitempty"`

	// Datalog
	DatalogPath *string `json:"datalog_path,omitempty" yaml:"datalog_path,omitempty"`
}

// LoadSettings loads Settings from a .json, .yaml or .yml file.
// Fields omitted from the file keep their defaults, so partial files are
// safe.
func LoadSettings(path string) (*Settings, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("settings file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat settings file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("settings file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}

	s := &Settings{}
	if ext == ".json" {
		err = json.Unmarshal(data, s)
	} else {
		err = yaml.Unmarshal(data, s)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return s, nil
}

// Validate checks that the settings values are valid.
func (s *Settings) Validate() error {
	if s.Transport != nil {
		switch *s.Transport {
		case TransportMemory, TransportNATS:
		default:
			return fmt.Errorf("transport must be %q or %q, got %q", TransportMemory, TransportNATS, *s.Transport)
		}
	}

	for name, d := range map[string]*string{
		"nats_timeout":  s.NATSTimeout,
		"tick_interval": s.TickInterval,
	} {
		if d == nil || *d == "" {
			continue
		}
		v, err := time.ParseDuration(*d)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *d, err)
		}
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, *d)
		}
	}

	seen := make(map[string]bool, len(s.Tables))
	for _, t := range s.Tables {
		if t == "" {
			return fmt.Errorf("tables must not contain an empty name")
		}
		if seen[t] {
			return fmt.Errorf("duplicate table %q", t)
		}
		seen[t] = true
	}
	return nil
}

func getString(p *string, def string) string {
	if p == nil || *p == "" {
		return def
	}
	return *p
}

func getDuration(p *string, def time.Duration) time.Duration {
	if p == nil || *p == "" {
		return def
	}
	d, err := time.ParseDuration(*p)
	if err != nil {
		return def // default on parse error
	}
	return d
}

// GetListen returns the HTTP listen address.
func (s *Settings) GetListen() string { return getString(s.Listen, ":8080") }

// GetGRPCListen returns the gRPC listen address.
func (s *Settings) GetGRPCListen() string { return getString(s.GRPCListen, ":9090") }

// GetTransport returns the transport kind.
func (s *Settings) GetTransport() string { return getString(s.Transport, TransportMemory) }

// GetNATSURL returns the NATS server URL.
func (s *Settings) GetNATSURL() string { return getString(s.NATSURL, "nats://127.0.0.1:4222") }

// GetNATSBucket returns the key-value bucket shared with the co-processor.
func (s *Settings) GetNATSBucket() string { return getString(s.NATSBucket, "moenet") }

// GetNATSTimeout returns the timeout for NATS operations.
func (s *Settings) GetNATSTimeout() time.Duration { return getDuration(s.NATSTimeout, 2*time.Second) }

// GetTickInterval returns the period of the link tick.
func (s *Settings) GetTickInterval() time.Duration {
	return getDuration(s.TickInterval, 20*time.Millisecond)
}

// GetTables returns the tables to open links on.
func (s *Settings) GetTables() []string {
	if len(s.Tables) == 0 {
		return []string{"moenet"}
	}
	return s.Tables
}

// GetRemoteConfig returns the path of the configuration to send to the
// co-processor, or "" for none.
func (s *Settings) GetRemoteConfig() string { return getString(s.RemoteConfig, "") }

// GetDatalogPath returns the datalog file, or "" to disable it.
func (s *Settings) GetDatalogPath() string { return getString(s.DatalogPath, "") }
