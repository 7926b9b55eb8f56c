// Package config loads peercall settings from a YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"gopkg.in/yaml.v3"

	"github.com/artpar/peercall/internal/call"
	"github.com/artpar/peercall/internal/crypto"
	"github.com/artpar/peercall/internal/media"
	"github.com/artpar/peercall/internal/protocol"
	rtc "github.com/artpar/peercall/internal/webrtc"
)

const (
	// DefaultDir holds the config file and transcripts under the home directory
	DefaultDir = ".peercall"
	// FileName is the config file looked up in DefaultDir
	FileName = "config.yaml"

	envPrefix = "PEERCALL_"
)

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Network Network `yaml:"network"`
	Call    Call    `yaml:"call"`
	Media   Media   `yaml:"media"`
	Log     Log     `yaml:"log"`
	// LinkBase prefixes shareable links, e.g. the URL of a browser client
	LinkBase string `yaml:"linkBase"`
	// RecordDir, when set, receives a transcript of every call
	RecordDir string `yaml:"recordDir"`
	// MetricsAddr, when set, serves Prometheus metrics during a call
	MetricsAddr string `yaml:"metricsAddr"`
}

type Network struct {
	ICEServers    []string      `yaml:"iceServers"`
	HostOnly      bool          `yaml:"hostOnly"`
	GatherTimeout time.Duration `yaml:"gatherTimeout"`
}

type Call struct {
	ReconnectInterval    time.Duration `yaml:"reconnectInterval"`
	MaxReconnectAttempts int           `yaml:"maxReconnectAttempts"`
	TeardownGrace        time.Duration `yaml:"teardownGrace"`
	QualityInterval      time.Duration `yaml:"qualityInterval"`
	FrameBudget          int           `yaml:"frameBudget"`
	PendingTTL           time.Duration `yaml:"pendingTTL"`
	KDF                  string        `yaml:"kdf"`
}

type Media struct {
	Preset string `yaml:"preset"`
	// Video is an IVF (VP8) file, Audio an Ogg Opus file. Either may be
	// empty; both empty means a silent source.
	Video string `yaml:"video"`
	Audio string `yaml:"audio"`
	Loop  bool   `yaml:"loop"`
}

type Log struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns the built-in settings
func Default() *Config {
	opts := call.DefaultOptions()
	return &Config{
		Network: Network{
			GatherTimeout: rtc.DefaultGatherTimeout,
		},
		Call: Call{
			ReconnectInterval:    opts.ReconnectInterval,
			MaxReconnectAttempts: opts.MaxReconnectAttempts,
			TeardownGrace:        opts.TeardownGrace,
			QualityInterval:      opts.QualityInterval,
			FrameBudget:          opts.FrameBudget,
			PendingTTL:           opts.PendingTTL,
			KDF:                  string(opts.KDF),
		},
		Media: Media{
			Preset: string(media.DefaultPreset),
			Loop:   true,
		},
		Log: Log{Level: "info"},
	}
}

// DefaultPath returns ~/.peercall/config.yaml
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(DefaultDir, FileName)
	}
	return filepath.Join(home, DefaultDir, FileName)
}

// Load reads path over the defaults and applies environment overrides.
// An empty path tries DefaultPath and tolerates its absence.
func Load(path string) (*Config, error) {
	c := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case explicit || !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := c.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return c, c.Validate()
}

// ApplyEnv overrides fields from PEERCALL_* variables
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(envPrefix + name); ok {
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) error {
		v, ok := lookup(envPrefix + name)
		if !ok {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %s%s=%q", ErrInvalid, envPrefix, name, v)
		}
		*dst = b
		return nil
	}

	if v, ok := lookup(envPrefix + "ICE_SERVERS"); ok {
		c.Network.ICEServers = splitList(v)
	}
	if err := boolean("HOST_ONLY", &c.Network.HostOnly); err != nil {
		return err
	}
	str("LINK_BASE", &c.LinkBase)
	str("RECORD_DIR", &c.RecordDir)
	str("METRICS_ADDR", &c.MetricsAddr)
	str("KDF", &c.Call.KDF)
	str("PRESET", &c.Media.Preset)
	str("VIDEO", &c.Media.Video)
	str("AUDIO", &c.Media.Audio)
	str("LOG_LEVEL", &c.Log.Level)
	return boolean("LOG_JSON", &c.Log.JSON)
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate rejects settings the call cannot run with
func (c *Config) Validate() error {
	var errs []error
	positive := func(name string, d time.Duration) {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}

	positive("network.gatherTimeout", c.Network.GatherTimeout)
	positive("call.reconnectInterval", c.Call.ReconnectInterval)
	positive("call.teardownGrace", c.Call.TeardownGrace)
	positive("call.qualityInterval", c.Call.QualityInterval)
	positive("call.pendingTTL", c.Call.PendingTTL)

	if c.Call.MaxReconnectAttempts < 1 {
		errs = append(errs, errors.New("call.maxReconnectAttempts must be at least 1"))
	}
	if c.Call.FrameBudget < 64 || c.Call.FrameBudget > protocol.DefaultFrameBudget {
		errs = append(errs, fmt.Errorf("call.frameBudget must be between 64 and %d", protocol.DefaultFrameBudget))
	}
	if _, err := crypto.ParseKDF(c.Call.KDF); err != nil {
		errs = append(errs, fmt.Errorf("call.kdf: %w", err))
	}
	if _, err := media.ParsePreset(c.Media.Preset); err != nil {
		errs = append(errs, err)
	}
	for _, s := range c.Network.ICEServers {
		if !strings.HasPrefix(s, "stun:") && !strings.HasPrefix(s, "turn:") && !strings.HasPrefix(s, "turns:") {
			errs = append(errs, fmt.Errorf("ice server %q must be a stun: or turn: URL", s))
		}
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// CallOptions returns the session timings
func (c *Config) CallOptions() call.Options {
	opts := call.DefaultOptions()
	opts.ReconnectInterval = c.Call.ReconnectInterval
	opts.MaxReconnectAttempts = c.Call.MaxReconnectAttempts
	opts.TeardownGrace = c.Call.TeardownGrace
	opts.QualityInterval = c.Call.QualityInterval
	opts.FrameBudget = c.Call.FrameBudget
	opts.PendingTTL = c.Call.PendingTTL
	if kdf, err := crypto.ParseKDF(c.Call.KDF); err == nil {
		opts.KDF = kdf
	}
	return opts
}

// PeerConfig returns the connection settings
func (c *Config) PeerConfig() rtc.Config {
	if c.Network.HostOnly {
		cfg := rtc.ConfigWithoutSTUN()
		cfg.GatherTimeout = c.Network.GatherTimeout
		return cfg
	}

	cfg := rtc.DefaultConfig()
	cfg.GatherTimeout = c.Network.GatherTimeout
	if len(c.Network.ICEServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: c.Network.ICEServers}}
	}
	return cfg
}

// Preset returns the validated video preset
func (c *Config) Preset() media.Preset {
	p, err := media.ParsePreset(c.Media.Preset)
	if err != nil {
		return media.DefaultPreset
	}
	return p
}

// Source returns the media source: file playback when files are set,
// silence otherwise.
func (c *Config) Source() media.Source {
	if c.Media.Video == "" && c.Media.Audio == "" {
		return media.SilentSource{}
	}
	return media.FileSource{VideoPath: c.Media.Video, AudioPath: c.Media.Audio, Loop: c.Media.Loop}
}
