// Package config holds the settings shared by every cfgwalk command.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/invopop/jsonschema"
)

// Formats accepted by Config.Format.
var Formats = []string{"text", "json", "dot", "markdown"}

// Config is the on-disk configuration. Command-line flags take precedence.
type Config struct {
	Arch          string `json:"arch,omitempty" jsonschema:"title=Architecture,description=Instruction set when it cannot be taken from the ELF header,enum=amd64,enum=386,enum=arm64"`
	Section       string `json:"section,omitempty" jsonschema:"title=Section,description=Section to explore (default .text)"`
	MaxBlocks     int    `json:"maxBlocks,omitempty" jsonschema:"title=Max Blocks,description=Stop after this many blocks (0 for no limit),minimum=0"`
	MaxBlockInsts int    `json:"maxBlockInsts,omitempty" jsonschema:"title=Max Block Instructions,description=Split blocks longer than this (0 for no limit),minimum=0"`
	Workers       int    `json:"workers,omitempty" jsonschema:"title=Workers,description=Blocks decoded concurrently per level,minimum=1"`
	NoFollowCalls bool   `json:"noFollowCalls,omitempty" jsonschema:"title=Do Not Follow Calls,description=Treat calls as returning without exploring the callee"`
	Fence         bool   `json:"fence,omitempty" jsonschema:"title=Fence,description=Only explore addresses inside the loaded section"`
	Strict        bool   `json:"strict,omitempty" jsonschema:"title=Strict,description=Abort on the first undecodable block"`
	Format        string `json:"format,omitempty" jsonschema:"title=Output Format,enum=text,enum=json,enum=dot,enum=markdown"`
	NoColor       bool   `json:"noColor,omitempty" jsonschema:"title=No Color,description=Disable syntax highlighting"`
	Debug         bool   `json:"debug,omitempty" jsonschema:"title=Debug,description=Enable debug logging"`
	LogDir        string `json:"logDir,omitempty" jsonschema:"title=Log Directory,description=Where CFGWALK_LOG_TO_FILE writes log files"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Workers: 1,
		Format:  "text",
		LogDir:  ".",
	}
}

// Load returns the defaults overlaid with the JSON file at path, if any, and
// then the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if os.Getenv("CFGWALK_NO_COLOR") != "" {
		cfg.NoColor = true
	}
	if os.Getenv("CFGWALK_LOG_LEVEL") == "debug" {
		cfg.Debug = true
	}
	if dir := os.Getenv("CFGWALK_LOG_DIR"); dir != "" {
		cfg.LogDir = dir
	}
	return cfg, nil
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if c.MaxBlocks < 0 {
		errs = append(errs, fmt.Errorf("maxBlocks must not be negative, got %d", c.MaxBlocks))
	}
	if c.MaxBlockInsts < 0 {
		errs = append(errs, fmt.Errorf("maxBlockInsts must not be negative, got %d", c.MaxBlockInsts))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	if !slices.Contains(Formats, c.Format) {
		errs = append(errs, fmt.Errorf("unknown format %q", c.Format))
	}
	return errors.Join(errs...)
}

// Schema returns the JSON schema describing Config.
func Schema() ([]byte, error) {
	reflector := new(jsonschema.Reflector)
	bts, err := json.MarshalIndent(reflector.Reflect(&Config{}), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return bts, nil
}
