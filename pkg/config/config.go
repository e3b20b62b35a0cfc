package config

import (
	"encoding/json"
	"os"
	"path/filepath"
)

type AdapterConfig struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	NapCatHost string `json:"napcatHost"`
	NapCatPort int    `json:"napcatPort"`
	SendMode   string `json:"sendMode"` // websocket or http
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allowFrom"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

type AgentConfig struct {
	Workspace        string  `json:"workspace"`
	Model            string  `json:"model"`
	VisionModel      string  `json:"visionModel"`
	Provider         string  `json:"provider,omitempty"` // Explicit provider selection
	AliasName        string  `json:"aliasName"`
	Persona          string  `json:"persona"`
	ReplyProbability float64 `json:"replyProbability"`
	MaxActionMemory  int     `json:"maxActionMemory"`
	ContextWindow    int     `json:"contextWindow"` // messages per drain
	KeepCount        int     `json:"keepCount"`     // buffer trim target, 0 = unbounded
	PollIntervalMs   int     `json:"pollIntervalMs"`
	VocabularyFile   string  `json:"vocabularyFile,omitempty"`
}

type ProviderConfig struct {
	APIKey  string `json:"apiKey"`
	APIBase string `json:"apiBase,omitempty"`
}

type ProvidersConfig struct {
	OpenAI     ProviderConfig `json:"openai"`
	DeepSeek   ProviderConfig `json:"deepseek"`
	OpenRouter ProviderConfig `json:"openrouter"`
}

type CorrelatorConfig struct {
	TimeoutSeconds int `json:"timeoutSeconds"`
	TTLSeconds     int `json:"ttlSeconds"`
	SweepSeconds   int `json:"sweepSeconds"`
}

type ComicConfig struct {
	Enabled     bool   `json:"enabled"`
	BaseURL     string `json:"baseUrl"`
	DownloadDir string `json:"downloadDir"`
	MaxResults  int    `json:"maxResults"`
}

type CronConfig struct {
	Enabled   bool   `json:"enabled"`
	StorePath string `json:"storePath"`
}

type Config struct {
	Agent      AgentConfig      `json:"agent"`
	Adapter    AdapterConfig    `json:"adapter"`
	Channels   ChannelsConfig   `json:"channels"`
	Providers  ProvidersConfig  `json:"providers"`
	Correlator CorrelatorConfig `json:"correlator"`
	Comic      ComicConfig      `json:"comic"`
	Cron       CronConfig       `json:"cron"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			Workspace:        ".xiaolubot/workspace",
			Model:            "deepseek-chat",
			VisionModel:      "qwen-vl-plus",
			AliasName:        "小鹿",
			Persona:          "你是群聊里的普通成员小鹿，说话口语化、简短，像真人一样偶尔插话。",
			ReplyProbability: 0.3,
			MaxActionMemory:  15,
			ContextWindow:    15,
			KeepCount:        0,
			PollIntervalMs:   100,
		},
		Adapter: AdapterConfig{
			Host:       "0.0.0.0",
			Port:       18470,
			NapCatHost: "127.0.0.1",
			NapCatPort: 3000,
			SendMode:   "websocket",
		},
		Correlator: CorrelatorConfig{
			TimeoutSeconds: 10,
			TTLSeconds:     60,
			SweepSeconds:   15,
		},
		Comic: ComicConfig{
			DownloadDir: ".xiaolubot/comics",
			MaxResults:  5,
		},
		Cron: CronConfig{
			StorePath: ".xiaolubot/cron_jobs.json",
		},
	}
}

// LoadConfig loads the configuration from the given path.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = filepath.Join(".xiaolubot", "config.json")
	}

	config := DefaultConfig()

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(config); err != nil {
		return nil, err
	}

	return config, nil
}
