// Package config provides configuration management for the voice agent.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/lokutor-ai/voice-orchestrator/pkg/orchestrator"
)

// Config holds all application configuration.
type Config struct {
	Providers  ProvidersConfig  `mapstructure:"providers"`
	Audio      AudioConfig      `mapstructure:"audio"`
	Agent      AgentConfig      `mapstructure:"agent"`
	Memory     MemoryConfig     `mapstructure:"memory"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
	Server     ServerConfig     `mapstructure:"server"`
}

// ProvidersConfig selects which vendor backs each collaborator and the API
// key each one needs, read from the environment so no secret ever touches a
// config file on disk.
type ProvidersConfig struct {
	STT      string `mapstructure:"stt"`
	LLM      string `mapstructure:"llm"`
	TTS      string `mapstructure:"tts"`
	LLMModel string `mapstructure:"llm_model"`

	GroqAPIKey       string `mapstructure:"-"`
	OpenAIAPIKey     string `mapstructure:"-"`
	AnthropicAPIKey  string `mapstructure:"-"`
	GoogleAPIKey     string `mapstructure:"-"`
	DeepgramAPIKey   string `mapstructure:"-"`
	AssemblyAIAPIKey string `mapstructure:"-"`
	LokutorAPIKey    string `mapstructure:"-"`
}

// AudioConfig configures capture/playback and the VAD gate.
type AudioConfig struct {
	SampleRate       int           `mapstructure:"sample_rate"`
	Channels         int           `mapstructure:"channels"`
	VADThreshold     float64       `mapstructure:"vad_threshold"`
	VADSilenceDur    time.Duration `mapstructure:"vad_silence_duration"`
	MinWordsInterrupt int          `mapstructure:"min_words_interrupt"`
}

// AgentConfig configures conversation behavior.
type AgentConfig struct {
	Language             string `mapstructure:"language"`
	Voice                string `mapstructure:"voice"`
	MaxContextMessages   int    `mapstructure:"max_context_messages"`
	SlidingWindowTurns   int    `mapstructure:"sliding_window_turns"`
	MaxToolIterations    int    `mapstructure:"max_tool_iterations"`
	ActiveTimeoutSeconds int    `mapstructure:"active_timeout_seconds"`
	KeepSTTWarmOnIdle    bool   `mapstructure:"keep_stt_warm_on_idle"`
	SystemPrompt         string `mapstructure:"system_prompt"`
	LogLevel             string `mapstructure:"log_level"`
}

// MemoryConfig configures the pgvector-backed long-term memory store.
type MemoryConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	DatabaseURL string `mapstructure:"database_url"`
	EmbedModel string `mapstructure:"embed_model"`
	TopK       int    `mapstructure:"top_k"`
}

// PersistenceConfig configures conversation logging and export.
type PersistenceConfig struct {
	LogDir      string `mapstructure:"log_dir"`
	DatabaseURL string `mapstructure:"database_url"`
}

// ServerConfig configures the HTTP/WS control surface.
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// DefaultConfig returns sensible defaults, mirroring
// orchestrator.DefaultConfig() for the fields the two share.
func DefaultConfig() *Config {
	oc := orchestrator.DefaultConfig()
	return &Config{
		Providers: ProvidersConfig{
			STT:      "groq",
			LLM:      "groq",
			TTS:      "lokutor",
			LLMModel: "llama-3.3-70b-versatile",
		},
		Audio: AudioConfig{
			SampleRate:        oc.SampleRate,
			Channels:          oc.Channels,
			VADThreshold:      oc.VADThresholdNormal,
			VADSilenceDur:     500 * time.Millisecond,
			MinWordsInterrupt: oc.MinWordsToInterrupt,
		},
		Agent: AgentConfig{
			Language:             string(oc.Language),
			Voice:                string(oc.VoiceStyle),
			MaxContextMessages:   oc.MaxContextMessages,
			SlidingWindowTurns:   oc.SlidingWindowTurns,
			MaxToolIterations:    oc.MaxToolIterations,
			ActiveTimeoutSeconds: oc.ActiveTimeoutSeconds,
			KeepSTTWarmOnIdle:    oc.KeepSTTWarmOnIdle,
			SystemPrompt:         "You are a helpful and concise voice assistant. Use short sentences suitable for speech.",
			LogLevel:             oc.LogLevel,
		},
		Memory: MemoryConfig{
			Enabled: false,
			EmbedModel: "text-embedding-3-small",
			TopK:       4,
		},
		Persistence: PersistenceConfig{
			LogDir: "./logs",
		},
		Server: ServerConfig{
			Enabled: true,
			Addr:    ":8090",
		},
	}
}

// OrchestratorConfig translates the loaded Config into an
// orchestrator.Config, the shape the orchestrator package itself consumes.
func (c *Config) OrchestratorConfig() orchestrator.Config {
	oc := orchestrator.DefaultConfig()
	oc.SampleRate = c.Audio.SampleRate
	oc.Channels = c.Audio.Channels
	oc.Language = orchestrator.Language(c.Agent.Language)
	oc.VoiceStyle = orchestrator.Voice(c.Agent.Voice)
	oc.MaxContextMessages = c.Agent.MaxContextMessages
	oc.SlidingWindowTurns = c.Agent.SlidingWindowTurns
	oc.MaxToolIterations = c.Agent.MaxToolIterations
	oc.ActiveTimeoutSeconds = c.Agent.ActiveTimeoutSeconds
	oc.KeepSTTWarmOnIdle = c.Agent.KeepSTTWarmOnIdle
	oc.MinWordsToInterrupt = c.Audio.MinWordsInterrupt
	oc.VADThresholdNormal = c.Audio.VADThreshold
	oc.LogLevel = c.Agent.LogLevel
	return oc
}

// Load reads configuration from an agent.yaml file (if present) on top of
// DefaultConfig. Environment variables prefixed AGENT_ override only the
// keys the file sets, under the key's dotted name (AGENT_AUDIO.SAMPLE_RATE);
// an option the file does not set is not read from the environment. API
// keys (and DATABASE_URL) are read directly from the environment and never
// persisted to the config file.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	viper.SetConfigName("agent")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	if configDir, err := ConfigDir(); err == nil {
		viper.AddConfigPath(configDir)
	}

	viper.SetEnvPrefix("AGENT")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return cfg, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return cfg, err
	}

	cfg.Providers.GroqAPIKey = os.Getenv("GROQ_API_KEY")
	cfg.Providers.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.Providers.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")
	cfg.Providers.GoogleAPIKey = os.Getenv("GOOGLE_API_KEY")
	cfg.Providers.DeepgramAPIKey = os.Getenv("DEEPGRAM_API_KEY")
	cfg.Providers.AssemblyAIAPIKey = os.Getenv("ASSEMBLYAI_API_KEY")
	cfg.Providers.LokutorAPIKey = os.Getenv("LOKUTOR_API_KEY")

	if cfg.Persistence.DatabaseURL == "" {
		cfg.Persistence.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if cfg.Memory.DatabaseURL == "" {
		cfg.Memory.DatabaseURL = cfg.Persistence.DatabaseURL
	}

	return cfg, nil
}

// ConfigDir returns the directory an agent.yaml config file may live in,
// creating it if necessary.
func ConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(homeDir, ".voice-orchestrator")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}
