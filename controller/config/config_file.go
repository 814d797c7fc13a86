package config

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// File holds the settings read from a YAML config file.
// Flags given on the command line take precedence.
type File struct {
	Listen       string `yaml:"listen"`
	ShortDelayMS uint64 `yaml:"short_delay_ms"`
	LongDelayMS  uint64 `yaml:"long_delay_ms"`
	// Verify the decoded bits against the observed packet timing
	VerifyTiming bool `yaml:"verify_timing"`
	// Empty disables the session archive
	ArchivePath string `yaml:"archive_path"`
	// Directory where whisper-send writes captures
	CaptureDir string `yaml:"capture_dir"`
	LogLevel   string `yaml:"log_level"`  // debug, info, warn, error
	LogFormat  string `yaml:"log_format"` // text, json
}

// Delay bounds in milliseconds shared by the file and the client config
var DelayRange = [2]uint64{1, 60000}

func DefaultFile() File {
	return File{
		Listen:       ":3000",
		ShortDelayMS: 100,
		LongDelayMS:  300,
		CaptureDir:   ".",
		LogLevel:     "info",
		LogFormat:    "text",
	}
}

// LoadFile reads path on top of the defaults.
// An empty path returns the defaults.
func LoadFile(path string) (File, error) {
	f := DefaultFile()
	if path == "" {
		return f, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return f, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := f.Validate(); err != nil {
		return f, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return f, nil
}

// Validate reuses the client params so both accept the same values
func (f File) Validate() error {
	return Validate(struct {
		ShortDelayMS U64Param
		LongDelayMS  U64Param
		LogLevel     SelectParam
		LogFormat    SelectParam
	}{
		ShortDelayMS: MakeU64(f.ShortDelayMS, DelayRange, Display{}),
		LongDelayMS:  MakeU64(f.LongDelayMS, DelayRange, Display{}),
		LogLevel:     MakeSelect(f.LogLevel, []string{"debug", "info", "warn", "error"}, Display{}),
		LogFormat:    MakeSelect(f.LogFormat, []string{"text", "json"}, Display{}),
	})
}

// NewLogger builds the slog logger described by the file
func (f File) NewLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(f.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if f.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
