package factory

import (
	"ai-research-be/pkg/llm"
	"ai-research-be/pkg/llm/huggingface"
	"ai-research-be/pkg/llm/ollama"
	"fmt"
)

const defaultOllamaURL = "http://localhost:11434"

// NewLLMProvider builds a provider by type name ("ollama" or "huggingface").
func NewLLMProvider(providerType, modelName, baseURL, apiKey string) (llm.LLMProvider, error) {
	if modelName == "" {
		return nil, fmt.Errorf("%s provider: model name is required", providerType)
	}
	switch providerType {
	case "ollama":
		if baseURL == "" {
			baseURL = defaultOllamaURL
		}
		return ollama.NewOllamaProvider(baseURL, modelName), nil
	case "huggingface", "openai":
		return huggingface.NewHuggingFaceProvider(apiKey, baseURL, modelName), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", providerType)
	}
}
