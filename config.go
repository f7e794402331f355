// config.go - YAML configuration loading
//
// Mirrors the key configuration surface enumerated in the facade's
// contract: geometry (rows/cols/banks/ranks/channels, optionally
// subdivided by mat height), the decoder and per-channel memory
// controller plugin names, prefetcher selection and buffer size, and
// pre-trace output control. Per-channel override files are resolved
// relative to the main config file's directory unless absolute,
// exactly as the original's CONFIG_CHANNEL<i> resolution did.

package nvmain

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ChannelOverride names a YAML file that overrides fields of the
// parent config for one channel.
type ChannelOverride struct {
	ConfigFile string `yaml:"config_file"`
}

// Config is the root configuration document.
type Config struct {
	MATHeight int `yaml:"mat_height"`
	Rows      int `yaml:"rows"`
	Cols      int `yaml:"cols"`
	Banks     int `yaml:"banks"`
	Ranks     int `yaml:"ranks"`
	Channels  int `yaml:"channels"`

	AddressMappingScheme string `yaml:"address_mapping_scheme"`
	Decoder              string `yaml:"decoder"`
	MemController        string `yaml:"mem_ctl"`

	ChannelOverrides []ChannelOverride `yaml:"channel_overrides"`

	MemoryPrefetcher   string `yaml:"memory_prefetcher"`
	PrefetchBufferSize int    `yaml:"prefetch_buffer_size"`

	// PreTraceFile is resolved relative to dir (ResolvePath) unless
	// absolute; defaults to "trace.nvt" when PrintPreTrace or
	// EchoPreTrace is set but this is empty. PreTraceWriter names the
	// writer implementation; only the FileTraceWriter kind exists in
	// this core, so the field is accepted but not yet consulted.
	PreTraceFile   string `yaml:"pre_trace_file"`
	PreTraceWriter string `yaml:"pre_trace_writer"`
	PrintPreTrace  bool   `yaml:"print_pre_trace"`
	EchoPreTrace   bool   `yaml:"echo_pre_trace"`

	// dir is the directory the config file was loaded from, used to
	// resolve relative paths (channel overrides, pre-trace file).
	dir string
}

// LoadConfig reads and parses a YAML config file, recording its
// directory for later relative-path resolution.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.dir = filepath.Dir(path)

	if cfg.Subarrays() > 1 && cfg.Rows%cfg.MATHeight != 0 {
		defaultLogger.Warn("ROWS is not a multiple of MATHeight", "rows", cfg.Rows, "mat_height", cfg.MATHeight)
	}

	return &cfg, nil
}

// Subarrays returns ROWS/MATHeight when MATHeight is configured,
// otherwise 1 (a single subarray spanning the whole row count) —
// matching SetConfig's "MATHeight present" branch.
func (c *Config) Subarrays() int {
	if c.MATHeight > 0 {
		return c.Rows / c.MATHeight
	}
	return 1
}

// EffectiveRows is the row field width's basis: MATHeight when
// configured, ROWS otherwise.
func (c *Config) EffectiveRows() int {
	if c.MATHeight > 0 {
		return c.MATHeight
	}
	return c.Rows
}

// ResolvePath resolves a path relative to the config file's directory
// unless it is already absolute.
func (c *Config) ResolvePath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.dir, path)
}

// LoadChannelConfig loads channel i's override file (if any) merged
// over a copy of the parent config; channels without an override get
// an identical copy of the parent.
func (c *Config) LoadChannelConfig(i int) (*Config, error) {
	channelCfg := *c // shallow copy: slices are shared but not mutated per-channel

	if i >= len(c.ChannelOverrides) || c.ChannelOverrides[i].ConfigFile == "" {
		return &channelCfg, nil
	}

	path := c.ResolvePath(c.ChannelOverrides[i].ConfigFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, &channelCfg); err != nil {
		return nil, err
	}
	channelCfg.dir = c.dir

	return &channelCfg, nil
}
