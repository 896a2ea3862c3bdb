package config

import (
	"fmt"
	"os"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load reads a YAML configuration document from path, overlays a .env file
// (if present) into the process environment, expands ${VAR} references in the
// document, merges the result onto Default(), and validates the outcome.
//
// Load is the primary entry point for configuration loading; it is the only
// function callers outside this package should need.
func Load(path string, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("loading env file %s: %w", envFile, err)
		}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	expanded := ExpandEnv(raw)

	var doc Config
	if err := yaml.Unmarshal(expanded, &doc); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg := Default()
	if err := mergo.Merge(cfg, doc, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("merging config %s: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
