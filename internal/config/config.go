// Package config loads crmpilot configuration from a YAML file with
// environment overrides for secrets.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all crmpilot configuration.
type Config struct {
	// LLM backends and per-stage model selection.
	LLM LLMConfig `yaml:"llm"`

	// Mission budgets. Enforced by counters, not wall clocks.
	Budgets BudgetConfig `yaml:"budgets"`

	// External collaborators.
	Datastore DatastoreConfig `yaml:"datastore"`
	Mail      MailConfig      `yaml:"mail"`

	// Workspace directory for sys_* tools and usage persistence.
	Workspace string `yaml:"workspace"`

	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the oracle layer.
type LLMConfig struct {
	Backend    string        `yaml:"backend"` // gemini, ollama
	OllamaHost string        `yaml:"ollama_host"`
	Timeout    time.Duration `yaml:"timeout"`
	Models     StageModels   `yaml:"models"`
}

// StageModels maps each pipeline stage to a model id. Empty values fall back
// to the provider default.
type StageModels struct {
	Gatekeeper string `yaml:"gatekeeper"`
	Planner    string `yaml:"planner"`
	Healer     string `yaml:"healer"`
	Corrector  string `yaml:"corrector"`
	Verifier   string `yaml:"verifier"`
	Reflector  string `yaml:"reflector"`
	Reporter   string `yaml:"reporter"`
}

// BudgetConfig holds the two hard resource ceilings of a mission.
type BudgetConfig struct {
	MaxAttempts    int `yaml:"max_attempts"`    // outer orchestration attempts
	MaxCorrections int `yaml:"max_corrections"` // per failing tool
}

// DatastoreConfig points db_* tools at the CRM datastore REST endpoint.
type DatastoreConfig struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// MailConfig configures the mailbox collaborator.
type MailConfig struct {
	Token string `yaml:"token"`
}

type LoggingConfig struct {
	File  string `yaml:"file"`
	Debug bool   `yaml:"debug"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Backend: "gemini",
			Timeout: 45 * time.Second,
		},
		Budgets: BudgetConfig{
			MaxAttempts:    3,
			MaxCorrections: 2,
		},
		Datastore: DatastoreConfig{
			Timeout: 15 * time.Second,
		},
		Workspace: ".",
		Logging: LoggingConfig{
			File: "crmpilot.log",
		},
	}
}

// Load reads path (if it exists) over Default and applies env overrides.
// A missing file is not an error; a malformed one is.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("CRMPILOT_BACKEND"); v != "" {
		c.LLM.Backend = v
	}
	if v := os.Getenv("OLLAMA_HOST"); v != "" && c.LLM.OllamaHost == "" {
		c.LLM.OllamaHost = v
	}
	if v := os.Getenv("CRM_DATASTORE_URL"); v != "" {
		c.Datastore.BaseURL = v
	}
	if v := os.Getenv("CRM_DATASTORE_TOKEN"); v != "" {
		c.Datastore.Token = v
	}
	if v := os.Getenv("CRM_MAIL_TOKEN"); v != "" {
		c.Mail.Token = v
	}
}

func (c *Config) validate() error {
	if c.Budgets.MaxAttempts < 1 {
		return fmt.Errorf("budgets.max_attempts must be >= 1, got %d", c.Budgets.MaxAttempts)
	}
	if c.Budgets.MaxCorrections < 0 {
		return fmt.Errorf("budgets.max_corrections must be >= 0, got %d", c.Budgets.MaxCorrections)
	}
	switch c.LLM.Backend {
	case "gemini", "ollama":
	default:
		return fmt.Errorf("unsupported LLM backend: %s", c.LLM.Backend)
	}
	return nil
}
