package providers

import (
	"fmt"
	"os"
	"strings"

	"github.com/linxiaolu/xiaolubot/pkg/config"
)

// NewProvider creates a new LLM provider based on configuration.
func NewProvider(cfg *config.Config) (LLMProvider, error) {
	defaultModel := cfg.Agent.Model
	explicitProvider := cfg.Agent.Provider

	// Helper to check env if config is empty
	checkEnv := func(cfgVal, envKey string) string {
		if cfgVal != "" {
			return cfgVal
		}
		return os.Getenv(envKey)
	}

	// 1. Explicit selection
	if explicitProvider != "" {
		switch strings.ToLower(explicitProvider) {
		case "openai":
			apiKey := checkEnv(cfg.Providers.OpenAI.APIKey, "OPENAI_API_KEY")
			return NewOpenAIProvider(apiKey, cfg.Providers.OpenAI.APIBase, defaultModel), nil
		case "deepseek":
			apiKey := checkEnv(cfg.Providers.DeepSeek.APIKey, "DEEPSEEK_API_KEY")
			apiBase := cfg.Providers.DeepSeek.APIBase
			if apiBase == "" {
				apiBase = "https://api.deepseek.com"
			}
			return NewOpenAIProvider(apiKey, apiBase, defaultModel), nil
		case "openrouter":
			apiKey := checkEnv(cfg.Providers.OpenRouter.APIKey, "OPENROUTER_API_KEY")
			apiBase := cfg.Providers.OpenRouter.APIBase
			if apiBase == "" {
				apiBase = "https://openrouter.ai/api/v1"
			}
			return NewOpenAIProvider(apiKey, apiBase, defaultModel), nil
		default:
			return nil, fmt.Errorf("unknown provider: %s", explicitProvider)
		}
	}

	// 2. Heuristic selection based on keys (Precedence: DeepSeek > OpenAI > OpenRouter)
	if key := checkEnv(cfg.Providers.DeepSeek.APIKey, "DEEPSEEK_API_KEY"); key != "" {
		apiBase := cfg.Providers.DeepSeek.APIBase
		if apiBase == "" {
			apiBase = "https://api.deepseek.com"
		}
		return NewOpenAIProvider(key, apiBase, defaultModel), nil
	}

	if key := checkEnv(cfg.Providers.OpenAI.APIKey, "OPENAI_API_KEY"); key != "" {
		return NewOpenAIProvider(key, cfg.Providers.OpenAI.APIBase, defaultModel), nil
	}

	if key := checkEnv(cfg.Providers.OpenRouter.APIKey, "OPENROUTER_API_KEY"); key != "" {
		apiBase := cfg.Providers.OpenRouter.APIBase
		if apiBase == "" {
			apiBase = "https://openrouter.ai/api/v1"
		}
		return NewOpenAIProvider(key, apiBase, defaultModel), nil
	}

	return nil, fmt.Errorf("no API key configured for any provider")
}
