package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/consts"
	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/task"
)

const appName = "ajengine"

// EnvPrefix prefixes every environment override, e.g. AJ_MAX_PARALLEL_TASKS.
const EnvPrefix = "AJ_"

// LLMConfig selects the language-model backend
type LLMConfig struct {
	Provider    string  `json:"provider" yaml:"provider" toml:"provider"` // "ollama", "openai", "anthropic", "google"
	Model       string  `json:"model" yaml:"model" toml:"model"`
	BaseURL     string  `json:"base_url,omitempty" yaml:"base_url,omitempty" toml:"base_url"`
	APIKey      string  `json:"api_key,omitempty" yaml:"api_key,omitempty" toml:"api_key"`
	EmbedModel  string  `json:"embed_model,omitempty" yaml:"embed_model,omitempty" toml:"embed_model"`
	Temperature float64 `json:"temperature" yaml:"temperature" toml:"temperature"`
	MaxTokens   int     `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty" toml:"max_tokens"`
}

// AgentsConfig points at the remote-agent registry
type AgentsConfig struct {
	URL            string `json:"url" yaml:"url" toml:"url"`
	Token          string `json:"token,omitempty" yaml:"token,omitempty" toml:"token"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds" toml:"timeout_seconds"`
}

// Config represents application configuration
type Config struct {
	WorkspaceRoot       string       `json:"workspace_root" yaml:"workspace_root" toml:"workspace_root"`
	WorkingDir          string       `json:"working_dir" yaml:"working_dir" toml:"working_dir"`
	AllowShellCommands  bool         `json:"allow_shell_commands" yaml:"allow_shell_commands" toml:"allow_shell_commands"`
	MaxParallelTasks    int          `json:"max_parallel_tasks" yaml:"max_parallel_tasks" toml:"max_parallel_tasks"`
	ParallelEnabled     bool         `json:"parallel_enabled" yaml:"parallel_enabled" toml:"parallel_enabled"`
	StepTimeoutSeconds  int          `json:"step_timeout_seconds" yaml:"step_timeout_seconds" toml:"step_timeout_seconds"`
	ShellTimeoutSeconds int          `json:"shell_timeout_seconds" yaml:"shell_timeout_seconds" toml:"shell_timeout_seconds"`
	MaxSteps            int          `json:"max_steps" yaml:"max_steps" toml:"max_steps"`
	PromptTokenBudget   int          `json:"prompt_token_budget" yaml:"prompt_token_budget" toml:"prompt_token_budget"`
	CacheTTL            int          `json:"cache_ttl_seconds" yaml:"cache_ttl_seconds" toml:"cache_ttl_seconds"`
	MaxCacheEntries     int          `json:"max_cache_entries" yaml:"max_cache_entries" toml:"max_cache_entries"`
	MemoryPath          string       `json:"memory_path" yaml:"memory_path" toml:"memory_path"`
	LogLevel            string       `json:"log_level" yaml:"log_level" toml:"log_level"` // debug, info, warn, error, none
	LogPath             string       `json:"log_path" yaml:"log_path" toml:"log_path"`
	LLM                 LLMConfig    `json:"llm" yaml:"llm" toml:"llm"`
	Agents              AgentsConfig `json:"agents" yaml:"agents" toml:"agents"`
}

func defaultConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := strings.TrimSpace(os.Getenv("APPDATA")); appData != "" {
			return filepath.Join(appData, appName)
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Roaming", appName)
	default:
		if configHome := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); configHome != "" {
			return filepath.Join(configHome, appName)
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", appName)
	}
}

func defaultStateDir() string {
	switch runtime.GOOS {
	case "windows":
		if localAppData := strings.TrimSpace(os.Getenv("LOCALAPPDATA")); localAppData != "" {
			return filepath.Join(localAppData, appName)
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Local", appName)
	default:
		if stateHome := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); stateHome != "" {
			return filepath.Join(stateHome, appName)
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".local", "state", appName)
	}
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	stateDir := defaultStateDir()

	return &Config{
		WorkspaceRoot:       ".",
		WorkingDir:          ".",
		AllowShellCommands:  true,
		MaxParallelTasks:    consts.DefaultMaxParallel,
		ParallelEnabled:     true,
		StepTimeoutSeconds:  int(consts.DefaultStepTimeout / time.Second),
		ShellTimeoutSeconds: int(consts.DefaultShellTimeout / time.Second),
		MaxSteps:            consts.DefaultMaxSteps,
		PromptTokenBudget:   consts.DefaultPromptTokenBudget,
		CacheTTL:            300,
		MaxCacheEntries:     100,
		MemoryPath:          filepath.Join(stateDir, "memory.db"),
		LogLevel:            "info",
		LogPath:             filepath.Join(stateDir, appName+".log"),
		LLM: LLMConfig{
			Provider:    "ollama",
			Model:       "llama3.1",
			BaseURL:     "http://localhost:11434",
			EmbedModel:  "nomic-embed-text",
			Temperature: 0.2,
			MaxTokens:   consts.DefaultMaxTokens,
		},
		Agents: AgentsConfig{
			TimeoutSeconds: int(consts.DefaultAgentTimeout / time.Second),
		},
	}
}

// Load loads configuration from file. The format follows the extension:
// .yaml/.yml, .toml, anything else is JSON. A .env file next to the config
// (and in the working directory) is loaded first, then AJ_* variables override
// file values.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	loadDotEnv(path)

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decode(path, data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Defaults only
	default:
		return nil, err
	}

	if err := config.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	config.applyDefaults()

	return config, nil
}

func decode(path string, data []byte, config *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, config)
	case ".toml":
		_, err := toml.Decode(string(data), config)
		return err
	default:
		return json.Unmarshal(data, config)
	}
}

func loadDotEnv(configPath string) {
	candidates := []string{".env"}
	if configPath != "" {
		candidates = append(candidates, filepath.Join(filepath.Dir(configPath), ".env"))
	}
	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			// godotenv.Load never overrides variables that are already set.
			_ = godotenv.Load(candidate)
		}
	}
}

// applyEnv overrides fields from AJ_* variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) error {
		v, ok := lookup(EnvPrefix + key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
		}
		*dst = n
		return nil
	}
	boolean := func(key string, dst *bool) error {
		v, ok := lookup(EnvPrefix + key)
		if !ok || v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
		}
		*dst = b
		return nil
	}

	str("WORKSPACE_ROOT", &c.WorkspaceRoot)
	str("WORKING_DIR", &c.WorkingDir)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_PATH", &c.LogPath)
	str("MEMORY_PATH", &c.MemoryPath)
	str("LLM_PROVIDER", &c.LLM.Provider)
	str("LLM_MODEL", &c.LLM.Model)
	str("LLM_BASE_URL", &c.LLM.BaseURL)
	str("LLM_API_KEY", &c.LLM.APIKey)
	str("AGENTS_URL", &c.Agents.URL)
	str("AGENTS_TOKEN", &c.Agents.Token)

	for key, dst := range map[string]*int{
		"MAX_PARALLEL_TASKS":    &c.MaxParallelTasks,
		"STEP_TIMEOUT_SECONDS":  &c.StepTimeoutSeconds,
		"SHELL_TIMEOUT_SECONDS": &c.ShellTimeoutSeconds,
		"MAX_STEPS":             &c.MaxSteps,
	} {
		if err := integer(key, dst); err != nil {
			return err
		}
	}
	for key, dst := range map[string]*bool{
		"ALLOW_SHELL_COMMANDS": &c.AllowShellCommands,
		"PARALLEL_ENABLED":     &c.ParallelEnabled,
	} {
		if err := boolean(key, dst); err != nil {
			return err
		}
	}
	return nil
}

// applyDefaults fills fields a config file left empty.
func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.WorkspaceRoot == "" {
		c.WorkspaceRoot = def.WorkspaceRoot
	}
	if c.WorkingDir == "" {
		c.WorkingDir = def.WorkingDir
	}
	if c.MaxParallelTasks <= 0 {
		c.MaxParallelTasks = def.MaxParallelTasks
	}
	if c.StepTimeoutSeconds <= 0 {
		c.StepTimeoutSeconds = def.StepTimeoutSeconds
	}
	if c.ShellTimeoutSeconds <= 0 {
		c.ShellTimeoutSeconds = def.ShellTimeoutSeconds
	}
	if c.MaxSteps <= 0 {
		c.MaxSteps = def.MaxSteps
	}
	if c.PromptTokenBudget <= 0 {
		c.PromptTokenBudget = def.PromptTokenBudget
	}
	if c.MaxCacheEntries <= 0 {
		c.MaxCacheEntries = def.MaxCacheEntries
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.LogPath == "" {
		c.LogPath = def.LogPath
	}
	if c.MemoryPath == "" {
		c.MemoryPath = def.MemoryPath
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = def.LLM.Provider
	}
	if c.LLM.Model == "" && c.LLM.Provider == def.LLM.Provider {
		c.LLM.Model = def.LLM.Model
	}
	if c.LLM.MaxTokens <= 0 {
		c.LLM.MaxTokens = def.LLM.MaxTokens
	}
	if c.Agents.TimeoutSeconds <= 0 {
		c.Agents.TimeoutSeconds = def.Agents.TimeoutSeconds
	}
}

// Workspace builds the execution context for one batch. Relative paths are
// resolved against the process working directory.
func (c *Config) Workspace() *task.WorkspaceContext {
	root := c.WorkspaceRoot
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	cwd := c.WorkingDir
	if !filepath.IsAbs(cwd) {
		cwd = filepath.Join(root, cwd)
	}
	return &task.WorkspaceContext{
		Cwd:                filepath.Clean(cwd),
		WorkspaceRoot:      root,
		AllowShellCommands: c.AllowShellCommands,
		MaxParallelTasks:   c.MaxParallelTasks,
		ParallelEnabled:    c.ParallelEnabled,
	}
}

// StepTimeout returns the per-step executor timeout
func (c *Config) StepTimeout() time.Duration {
	return time.Duration(c.StepTimeoutSeconds) * time.Second
}

// ShellTimeout returns the default shell command timeout
func (c *Config) ShellTimeout() time.Duration {
	return time.Duration(c.ShellTimeoutSeconds) * time.Second
}

// CacheDuration returns the directory listing cache TTL
func (c *Config) CacheDuration() time.Duration {
	return time.Duration(c.CacheTTL) * time.Second
}

// Save saves configuration to file as JSON
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// GetConfigPath returns the default config path
func GetConfigPath() string {
	return filepath.Join(defaultConfigDir(), "config.json")
}
