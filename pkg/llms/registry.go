package llms

import (
	"fmt"

	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/registry"
)

// LLMRegistry manages named LLM provider instances.
type LLMRegistry struct {
	*registry.BaseRegistry[LLMProvider]
}

// NewLLMRegistry creates an empty LLM registry.
func NewLLMRegistry() *LLMRegistry {
	return &LLMRegistry{
		BaseRegistry: registry.NewBaseRegistry[LLMProvider](),
	}
}

// RegisterLLM registers a provider instance under a name.
func (r *LLMRegistry) RegisterLLM(name string, provider LLMProvider) error {
	if provider == nil {
		return fmt.Errorf("LLM provider cannot be nil")
	}
	return r.Register(name, provider)
}

// GetLLM retrieves a provider by name.
func (r *LLMRegistry) GetLLM(name string) (LLMProvider, error) {
	provider, exists := r.Get(name)
	if !exists {
		return nil, fmt.Errorf("LLM provider '%s' not found", name)
	}
	return provider, nil
}

// Close closes all registered providers.
func (r *LLMRegistry) Close() error {
	var firstErr error
	for _, provider := range r.List() {
		if err := provider.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
