// Package config loads kiln.toml, the runtime configuration file.
//
//	[heap]
//	initial_bytes = 65536
//	payload_initial_bytes = 65536
//	max_bytes = 1073741824
//	max_load = 0.75
//	shrink_load = 0.25
//	stress = false
//
//	[vm]
//	stack_slots = 1024
//	max_frames = 256
//
//	[trace]
//	level = "off"
//	mode = "stream"
//	format = "auto"
//	output = "-"
//	ring_size = 4096
//
// Every key is optional; missing keys keep their defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"kiln/internal/trace"
	"kiln/internal/vm"
)

// FileName is the name Find looks for.
const FileName = "kiln.toml"

// Config is the decoded configuration file.
type Config struct {
	Heap  HeapConfig  `toml:"heap"`
	VM    VMConfig    `toml:"vm"`
	Trace TraceConfig `toml:"trace"`

	// Path is the file the configuration was read from, empty for defaults.
	Path string `toml:"-"`
}

type HeapConfig struct {
	InitialBytes        int     `toml:"initial_bytes"`
	PayloadInitialBytes int     `toml:"payload_initial_bytes"`
	MaxBytes            int     `toml:"max_bytes"`
	MaxLoad             float64 `toml:"max_load"`
	ShrinkLoad          float64 `toml:"shrink_load"`
	Stress              bool    `toml:"stress"`
}

type VMConfig struct {
	StackSlots int `toml:"stack_slots"`
	MaxFrames  int `toml:"max_frames"`
}

type TraceConfig struct {
	Level    string `toml:"level"`
	Mode     string `toml:"mode"`
	Format   string `toml:"format"`
	Output   string `toml:"output"`
	RingSize int    `toml:"ring_size"`
}

// Default returns the built-in configuration.
func Default() Config {
	h := vm.DefaultHeapOptions()
	o := vm.DefaultOptions()
	return Config{
		Heap: HeapConfig{
			InitialBytes:        h.InitialBytes,
			PayloadInitialBytes: h.PayloadInitialBytes,
			MaxBytes:            h.MaxBytes,
			MaxLoad:             h.MaxLoad,
			ShrinkLoad:          h.ShrinkLoad,
		},
		VM: VMConfig{
			StackSlots: o.StackSlots,
			MaxFrames:  o.MaxFrames,
		},
		Trace: TraceConfig{
			Level:    "off",
			Mode:     "stream",
			Format:   "auto",
			Output:   "-",
			RingSize: 4096,
		},
	}
}

// Find walks up from startDir looking for kiln.toml.
func Find(startDir string) (string, bool, error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("failed to stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false, nil
}

// Load reads path over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return Config{}, fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	cfg.Path = path
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Discover loads the nearest kiln.toml above dir, or the defaults when
// there is none.
func Discover(dir string) (Config, error) {
	path, ok, err := Find(dir)
	if err != nil {
		return Config{}, err
	}
	if !ok {
		return Default(), nil
	}
	return Load(path)
}

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	h := c.Heap
	switch {
	case h.InitialBytes <= 0:
		return errors.New("[heap].initial_bytes must be positive")
	case h.PayloadInitialBytes <= 0:
		return errors.New("[heap].payload_initial_bytes must be positive")
	case h.MaxBytes < 0:
		return errors.New("[heap].max_bytes must not be negative")
	case h.MaxBytes > 0 && h.MaxBytes < h.InitialBytes+h.PayloadInitialBytes:
		return fmt.Errorf("[heap].max_bytes %d is below the initial region sizes", h.MaxBytes)
	case h.MaxLoad <= 0 || h.MaxLoad > 1:
		return fmt.Errorf("[heap].max_load %g must be in (0, 1]", h.MaxLoad)
	case h.ShrinkLoad < 0 || h.ShrinkLoad >= h.MaxLoad:
		return fmt.Errorf("[heap].shrink_load %g must be in [0, max_load)", h.ShrinkLoad)
	}
	if c.VM.StackSlots <= 0 {
		return errors.New("[vm].stack_slots must be positive")
	}
	if c.VM.MaxFrames <= 0 {
		return errors.New("[vm].max_frames must be positive")
	}
	if _, err := trace.ParseLevel(c.Trace.Level); err != nil {
		return fmt.Errorf("[trace].level: %w", err)
	}
	if _, err := trace.ParseMode(c.Trace.Mode); err != nil {
		return fmt.Errorf("[trace].mode: %w", err)
	}
	if _, err := trace.ParseFormat(c.Trace.Format); err != nil {
		return fmt.Errorf("[trace].format: %w", err)
	}
	if c.Trace.RingSize <= 0 {
		return errors.New("[trace].ring_size must be positive")
	}
	return nil
}

// VMOptions converts the file settings into VM options. Output streams and
// tracers are left for the caller.
func (c *Config) VMOptions() vm.Options {
	return vm.Options{
		Heap: vm.HeapOptions{
			InitialBytes:        c.Heap.InitialBytes,
			PayloadInitialBytes: c.Heap.PayloadInitialBytes,
			MaxBytes:            c.Heap.MaxBytes,
			MaxLoad:             c.Heap.MaxLoad,
			ShrinkLoad:          c.Heap.ShrinkLoad,
			Stress:              c.Heap.Stress,
		},
		StackSlots: c.VM.StackSlots,
		MaxFrames:  c.VM.MaxFrames,
	}
}

// TracerConfig converts the [trace] table. The values must have passed
// Validate.
func (t TraceConfig) TracerConfig() trace.Config {
	level, _ := trace.ParseLevel(t.Level)
	mode, _ := trace.ParseMode(t.Mode)
	format, _ := trace.ParseFormat(t.Format)
	return trace.Config{
		Level:      level,
		Mode:       mode,
		Format:     format,
		OutputPath: t.Output,
		RingSize:   t.RingSize,
	}
}
