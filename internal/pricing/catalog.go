package pricing

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kiranshivaraju/visionbench/pkg/models"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// ErrNoPricing is returned when neither the model config nor the catalog prices a model.
var ErrNoPricing = errors.New("no pricing available")

// Entry is one catalog row. Model "*" matches every model of the provider.
type Entry struct {
	Provider string               `yaml:"provider"`
	Model    string               `yaml:"model"`
	Pricing  models.PricingConfig `yaml:"pricing"`
}

// Catalog holds default pricing used when a ModelConfig carries none.
type Catalog struct {
	Entries []Entry `yaml:"models"`
}

// LoadCatalog reads the catalog at path, or the built-in catalog when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	data := defaultCatalog
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading pricing catalog %s: %w", path, err)
		}
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a YAML catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing pricing catalog: %w", err)
	}
	for i, e := range c.Entries {
		if e.Provider == "" || e.Model == "" {
			return nil, fmt.Errorf("pricing catalog entry %d: provider and model are required", i+1)
		}
		if err := e.Pricing.Validate(); err != nil {
			return nil, fmt.Errorf("pricing catalog entry %d (%s/%s): %w", i+1, e.Provider, e.Model, err)
		}
	}
	return &c, nil
}

// Lookup returns the catalog pricing for provider/model. An exact model match
// wins over the provider wildcard.
func (c *Catalog) Lookup(provider, model string) (models.PricingConfig, bool) {
	if c == nil {
		return models.PricingConfig{}, false
	}
	var wildcard *models.PricingConfig
	for i := range c.Entries {
		e := &c.Entries[i]
		if !strings.EqualFold(e.Provider, provider) {
			continue
		}
		if e.Model == model {
			return e.Pricing, true
		}
		if e.Model == "*" && wildcard == nil {
			wildcard = &e.Pricing
		}
	}
	if wildcard != nil {
		return *wildcard, true
	}
	return models.PricingConfig{}, false
}

// Source names where Resolve found pricing.
const (
	SourceModelConfig = "model_config"
	SourceCatalog     = "catalog"
)

// Resolve returns the pricing for mc: its own when set, otherwise the catalog's.
func (c *Catalog) Resolve(mc *models.ModelConfig) (models.PricingConfig, string, error) {
	if mc.Pricing != nil {
		return *mc.Pricing, SourceModelConfig, nil
	}
	if p, ok := c.Lookup(mc.Provider, mc.ModelName); ok {
		return p, SourceCatalog, nil
	}
	return models.PricingConfig{}, "", fmt.Errorf("%w for %s/%s", ErrNoPricing, mc.Provider, mc.ModelName)
}
