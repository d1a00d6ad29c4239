package chain

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadTokenRegistry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.yaml")
	content := `tokens:
  "0.0.456858":
    symbol: USDC
    name: USD Coin
    decimals: 6
  hbar:
    symbol: HBAR
    decimals: 8
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	registry, err := LoadTokenRegistry(path)
	if err != nil {
		t.Fatalf("LoadTokenRegistry failed: %v", err)
	}
	if registry.Len() != 2 {
		t.Fatalf("unexpected registry size: %d", registry.Len())
	}
	if got := registry.DisplayName("0.0.456858"); got != "USDC" {
		t.Fatalf("unexpected display name: %q", got)
	}
	if got := registry.Decimals("hbar"); got != 8 {
		t.Fatalf("unexpected decimals: %d", got)
	}
}

func TestLoadTokenRegistryEmptyPath(t *testing.T) {
	registry, err := LoadTokenRegistry("  ")
	if err != nil {
		t.Fatalf("empty path must yield an empty registry: %v", err)
	}
	if registry.Len() != 0 {
		t.Fatalf("unexpected registry size: %d", registry.Len())
	}
}

func TestLoadTokenRegistryBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.yaml")
	if err := os.WriteFile(path, []byte("tokens: [not, a, map]"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := LoadTokenRegistry(path); err == nil {
		t.Fatal("expected error for malformed registry file")
	}
}

func TestDisplayNameLookups(t *testing.T) {
	registry := NewTokenRegistry(map[string]TokenInfo{
		"0xABCD": {Symbol: "WIDGET"},
		"bare":   {},
	})

	// Lookups are case-insensitive and trim whitespace.
	if got := registry.DisplayName("  0xabcd "); got != "WIDGET" {
		t.Fatalf("unexpected display name: %q", got)
	}
	// Unknown ids and entries without a symbol fall back to the raw id.
	if got := registry.DisplayName("0xFFFF"); got != "0xFFFF" {
		t.Fatalf("unknown id must pass through: %q", got)
	}
	if got := registry.DisplayName("bare"); got != "bare" {
		t.Fatalf("symbol-less entry must pass through: %q", got)
	}

	var nilRegistry *TokenRegistry
	if got := nilRegistry.DisplayName("anything"); got != "anything" {
		t.Fatalf("nil registry must pass through: %q", got)
	}
}

func TestDecimalsDefault(t *testing.T) {
	registry := NewTokenRegistry(map[string]TokenInfo{
		"usdc": {Symbol: "USDC", Decimals: 6},
		"odd":  {Symbol: "ODD"},
	})
	if got := registry.Decimals("usdc"); got != 6 {
		t.Fatalf("unexpected decimals: %d", got)
	}
	if got := registry.Decimals("odd"); got != 18 {
		t.Fatalf("zero decimals must default to 18, got %d", got)
	}
	if got := registry.Decimals("missing"); got != 18 {
		t.Fatalf("unknown token must default to 18, got %d", got)
	}
}
