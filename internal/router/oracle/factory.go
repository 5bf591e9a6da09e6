package oracle

import "fmt"

// Config is the subset of orchestrator configuration the factory needs
// to construct a provider.
type Config struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
}

// New constructs the Oracle named by cfg.Provider
// (anthropic|openai|ollama|heuristic), defaulting to Heuristic.
func New(cfg Config) (Oracle, error) {
	switch cfg.Provider {
	case "", "heuristic":
		return NewHeuristic(), nil
	case "anthropic":
		return NewAnthropic(cfg.APIKey, cfg.Model), nil
	case "openai":
		return NewOpenAI(cfg.APIKey, cfg.Model, cfg.BaseURL), nil
	case "ollama":
		return NewOllama(cfg.BaseURL, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unknown oracle provider %q", cfg.Provider)
	}
}
