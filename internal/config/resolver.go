// Package config resolves runtime configuration from three layers with
// fixed precedence: CLI flags over environment variables over the YAML
// config file. Every resolved value remembers where it came from, so
// startup logs can say exactly which layer won.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type ValueSource string

const (
	SourceUnknown ValueSource = "unknown"
	SourceConfig  ValueSource = "config"
	SourceEnv     ValueSource = "env"
	SourceCLI     ValueSource = "cli"
	SourceDefault ValueSource = "default"
)

// ResolvedValue is a config value plus its provenance: which layer set
// it and the specific flag, env var, or file it came from.
type ResolvedValue struct {
	Value  string      `json:"value"`
	Source ValueSource `json:"source"`
	From   string      `json:"from,omitempty"`
}

// ResolveOptions carries the CLI-flag layer into resolution.
type ResolveOptions struct {
	ConfigPath       string
	CLIQdrantURL     string
	CLIEmbedEndpoint string
	CLIEmbedModel    string
	CLIToolLogPath   string
	CLILogMode       string
}

// ResolvedConfig is the full resolved runtime configuration.
type ResolvedConfig struct {
	ConfigPath string `json:"config_path"`

	QdrantURL    ResolvedValue `json:"qdrant_url"`
	QdrantAPIKey ResolvedValue `json:"qdrant_api_key"`

	EmbedEndpoint ResolvedValue `json:"embed_endpoint"`
	EmbedModel    ResolvedValue `json:"embed_model"`
	EmbedAPIKey   ResolvedValue `json:"embed_api_key"`

	ToolLogPath ResolvedValue `json:"tool_log_path"`
	LogMode     ResolvedValue `json:"log_mode"`
}

type fileConfig struct {
	Qdrant struct {
		URL    string `yaml:"url"`
		APIKey string `yaml:"api_key"`
	} `yaml:"qdrant"`
	Embed struct {
		Endpoint string `yaml:"endpoint"`
		Model    string `yaml:"model"`
		APIKey   string `yaml:"api_key"`
	} `yaml:"embed"`
	ToolLogPath string `yaml:"tool_log_path"`
	LogMode     string `yaml:"log_mode"`
}

// Built-in defaults, applied before any layer.
const (
	DefaultQdrantURL     = "http://localhost:6333"
	DefaultEmbedEndpoint = "https://api.voyageai.com/v1/embeddings"
	DefaultEmbedModel    = "voyage-2"
	DefaultLogMode       = "prod"
)

func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".gtmbrain", "config.yaml")
}

// ResolveConfig merges defaults, the YAML file, environment variables,
// and CLI flags, in that order.
func ResolveConfig(opts ResolveOptions) (ResolvedConfig, error) {
	path := strings.TrimSpace(opts.ConfigPath)
	if path == "" {
		path = DefaultConfigPath()
	}

	out := ResolvedConfig{
		ConfigPath:    path,
		QdrantURL:     ResolvedValue{Value: DefaultQdrantURL, Source: SourceDefault, From: "built-in default"},
		EmbedEndpoint: ResolvedValue{Value: DefaultEmbedEndpoint, Source: SourceDefault, From: "built-in default"},
		EmbedModel:    ResolvedValue{Value: DefaultEmbedModel, Source: SourceDefault, From: "built-in default"},
		LogMode:       ResolvedValue{Value: DefaultLogMode, Source: SourceDefault, From: "built-in default"},
	}

	cfg, err := loadConfig(path)
	if err != nil {
		return out, err
	}
	if cfg != nil {
		apply(&out.QdrantURL, cfg.Qdrant.URL, SourceConfig, path)
		apply(&out.QdrantAPIKey, cfg.Qdrant.APIKey, SourceConfig, path)
		apply(&out.EmbedEndpoint, cfg.Embed.Endpoint, SourceConfig, path)
		apply(&out.EmbedModel, cfg.Embed.Model, SourceConfig, path)
		apply(&out.EmbedAPIKey, cfg.Embed.APIKey, SourceConfig, path)
		apply(&out.ToolLogPath, cfg.ToolLogPath, SourceConfig, path)
		apply(&out.LogMode, cfg.LogMode, SourceConfig, path)
	}

	applyEnv(&out.QdrantURL, "QDRANT_URL")
	applyEnv(&out.QdrantAPIKey, "QDRANT_API_KEY")
	applyEnv(&out.EmbedEndpoint, "VOYAGE_ENDPOINT")
	applyEnv(&out.EmbedModel, "VOYAGE_MODEL")
	applyEnv(&out.EmbedAPIKey, "VOYAGE_API_KEY")
	applyEnv(&out.ToolLogPath, "GTMBRAIN_TOOL_LOG")
	applyEnv(&out.LogMode, "GTMBRAIN_LOG_MODE")

	apply(&out.QdrantURL, opts.CLIQdrantURL, SourceCLI, "--qdrant-url")
	apply(&out.EmbedEndpoint, opts.CLIEmbedEndpoint, SourceCLI, "--embed-endpoint")
	apply(&out.EmbedModel, opts.CLIEmbedModel, SourceCLI, "--embed-model")
	apply(&out.ToolLogPath, opts.CLIToolLogPath, SourceCLI, "--tool-log")
	apply(&out.LogMode, opts.CLILogMode, SourceCLI, "--log-mode")

	if out.ToolLogPath.Value != "" {
		out.ToolLogPath.Value = expandUserPath(out.ToolLogPath.Value)
	}
	return out, nil
}

func apply(dst *ResolvedValue, raw string, source ValueSource, from string) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return
	}
	*dst = ResolvedValue{Value: v, Source: source, From: from}
}

func applyEnv(dst *ResolvedValue, envKey string) {
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		*dst = ResolvedValue{Value: v, Source: SourceEnv, From: envKey}
	}
}

func loadConfig(path string) (*fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}

func expandUserPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
