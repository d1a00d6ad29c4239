package chain

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// TokenInfo describes a single known token.
type TokenInfo struct {
	Symbol   string `yaml:"symbol"`
	Name     string `yaml:"name"`
	Decimals int    `yaml:"decimals"`
}

// TokenRegistry maps token identifiers (contract addresses or network
// native ids) to display metadata. Lookups are case-insensitive.
type TokenRegistry struct {
	tokens map[string]TokenInfo
}

type tokenFile struct {
	Tokens map[string]TokenInfo `yaml:"tokens"`
}

// NewTokenRegistry builds a registry from an in-memory table.
func NewTokenRegistry(tokens map[string]TokenInfo) *TokenRegistry {
	normalized := make(map[string]TokenInfo, len(tokens))
	for id, info := range tokens {
		normalized[strings.ToLower(strings.TrimSpace(id))] = info
	}
	return &TokenRegistry{tokens: normalized}
}

// LoadTokenRegistry parses the YAML file containing token metadata. An
// empty path yields an empty registry so callers can run without one.
func LoadTokenRegistry(path string) (*TokenRegistry, error) {
	if strings.TrimSpace(path) == "" {
		return NewTokenRegistry(nil), nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read token registry: %w", err)
	}
	var file tokenFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("parse token registry: %w", err)
	}
	return NewTokenRegistry(file.Tokens), nil
}

// DisplayName returns the human readable symbol for a token identifier,
// falling back to the raw identifier when the token is unknown.
func (r *TokenRegistry) DisplayName(id string) string {
	if r == nil {
		return id
	}
	info, ok := r.tokens[strings.ToLower(strings.TrimSpace(id))]
	if !ok || info.Symbol == "" {
		return id
	}
	return info.Symbol
}

// Decimals returns the configured decimals for a token, defaulting to 18.
func (r *TokenRegistry) Decimals(id string) int {
	if r == nil {
		return 18
	}
	info, ok := r.tokens[strings.ToLower(strings.TrimSpace(id))]
	if !ok || info.Decimals <= 0 {
		return 18
	}
	return info.Decimals
}

// Len reports how many tokens are registered.
func (r *TokenRegistry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.tokens)
}
