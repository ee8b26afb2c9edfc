package llm

import (
	"time"

	"github.com/brand-assistant/backend/pkg/config"
)

// Message is one chat message. Role is "system", "user" or "assistant".
type Message struct {
	Role    string
	Content string
}

// Prompt is what a Provider receives: system instructions plus the ordered chat.
type Prompt struct {
	System   string
	Messages []Message
}

// Params are the sampling options of one generation. Zero Timeout means the
// generator default.
type Params struct {
	Temperature      float32
	MaxTokens        int
	TopP             float32
	FrequencyPenalty float32
	PresencePenalty  float32
	Timeout          time.Duration
}

func ParamsFromConfig(cfg config.LLMConfig) Params {
	return Params{
		Temperature:      cfg.Temperature,
		MaxTokens:        cfg.MaxTokens,
		TopP:             cfg.TopP,
		FrequencyPenalty: cfg.FrequencyPenalty,
		PresencePenalty:  cfg.PresencePenalty,
		Timeout:          cfg.Timeout(),
	}
}
