// Package pricing resolves per-model token prices and turns token counts
// into money. Prices are expressed per 1,000 tokens. A persisted pricing
// table, when available, overrides the built-in defaults so operators can
// correct prices without a redeploy.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/draftforge/tracebook/internal/trace"
)

// defaultTable holds launch prices for common models, USD per 1K tokens.
// It is the fallback when the store has no override for a model.
var defaultTable = map[string]trace.PricingEntry{
	"gpt-4o":                 {Model: "gpt-4o", InputPricePer1K: 0.0025, OutputPricePer1K: 0.01},
	"gpt-4o-mini":            {Model: "gpt-4o-mini", InputPricePer1K: 0.00015, OutputPricePer1K: 0.0006},
	"gpt-4-turbo":            {Model: "gpt-4-turbo", InputPricePer1K: 0.01, OutputPricePer1K: 0.03},
	"gpt-4":                  {Model: "gpt-4", InputPricePer1K: 0.03, OutputPricePer1K: 0.06},
	"gpt-3.5-turbo":          {Model: "gpt-3.5-turbo", InputPricePer1K: 0.0005, OutputPricePer1K: 0.0015},
	"o1":                     {Model: "o1", InputPricePer1K: 0.015, OutputPricePer1K: 0.06},
	"o1-mini":                {Model: "o1-mini", InputPricePer1K: 0.003, OutputPricePer1K: 0.012},
	"claude-3-5-sonnet":      {Model: "claude-3-5-sonnet", InputPricePer1K: 0.003, OutputPricePer1K: 0.015},
	"claude-3-5-haiku":       {Model: "claude-3-5-haiku", InputPricePer1K: 0.0008, OutputPricePer1K: 0.004},
	"claude-3-opus":          {Model: "claude-3-opus", InputPricePer1K: 0.015, OutputPricePer1K: 0.075},
	"text-embedding-3-small": {Model: "text-embedding-3-small", InputPricePer1K: 0.00002, OutputPricePer1K: 0},
	"text-embedding-3-large": {Model: "text-embedding-3-large", InputPricePer1K: 0.00013, OutputPricePer1K: 0},
}

// Cost is the priced outcome of one model call. All fields are nil when
// either token count is unknown or the model has no known price; partial
// costs are never fabricated.
type Cost struct {
	Input  *float64
	Output *float64
	Total  *float64
}

// PricingStore is the subset of the trace store the calculator needs.
type PricingStore interface {
	GetModelPricing(ctx context.Context, model string) (*trace.PricingEntry, error)
	UpsertModelPricing(ctx context.Context, entry trace.PricingEntry) error
}

// Calculator resolves prices with the store override winning over the
// built-in table. A nil store calculator serves the built-in table only.
type Calculator struct {
	store PricingStore
}

func NewCalculator(store PricingStore) *Calculator {
	return &Calculator{store: store}
}

// Lookup returns the pricing entry for a model, or nil when the model is
// unknown. Unknown models are not an error.
func (c *Calculator) Lookup(ctx context.Context, model string) (*trace.PricingEntry, error) {
	name := strings.TrimSpace(model)
	if name == "" {
		return nil, nil
	}

	if c != nil && c.store != nil {
		entry, err := c.store.GetModelPricing(ctx, name)
		if err == nil {
			return entry, nil
		}
		if !errors.Is(err, trace.ErrNotFound) {
			return nil, fmt.Errorf("resolve pricing for %q: %w", name, err)
		}
	}

	if entry, ok := defaultTable[name]; ok {
		return &entry, nil
	}
	// Dated snapshots like gpt-4o-2024-08-06 price as their base model.
	if entry, ok := defaultTable[baseModelName(name)]; ok {
		return &entry, nil
	}
	return nil, nil
}

// Calculate prices one call. Both token counts must be known; otherwise
// every cost field is nil. An unknown model also yields all-nil.
func (c *Calculator) Calculate(ctx context.Context, model string, tokensInput, tokensOutput *int64) (Cost, error) {
	if tokensInput == nil || tokensOutput == nil {
		return Cost{}, nil
	}

	entry, err := c.Lookup(ctx, model)
	if err != nil {
		return Cost{}, err
	}
	if entry == nil {
		return Cost{}, nil
	}

	input := float64(*tokensInput) / 1000 * entry.InputPricePer1K
	output := float64(*tokensOutput) / 1000 * entry.OutputPricePer1K
	total := input + output
	return Cost{Input: &input, Output: &output, Total: &total}, nil
}

// Update upserts a price override. The override is visible to the next
// Calculate call; there is no cache to invalidate.
func (c *Calculator) Update(ctx context.Context, model string, inputPricePer1K, outputPricePer1K float64) error {
	if c == nil || c.store == nil {
		return fmt.Errorf("pricing updates require a store")
	}
	name := strings.TrimSpace(model)
	if name == "" {
		return fmt.Errorf("pricing model cannot be empty")
	}
	if inputPricePer1K < 0 || outputPricePer1K < 0 {
		return fmt.Errorf("pricing for %q cannot be negative", name)
	}
	return c.store.UpsertModelPricing(ctx, trace.PricingEntry{
		Model:            name,
		InputPricePer1K:  inputPricePer1K,
		OutputPricePer1K: outputPricePer1K,
		UpdatedAt:        time.Now().UTC(),
	})
}

// DefaultModels lists the models in the built-in table, for seeding and
// CLI display.
func DefaultModels() []trace.PricingEntry {
	entries := make([]trace.PricingEntry, 0, len(defaultTable))
	for _, entry := range defaultTable {
		entries = append(entries, entry)
	}
	return entries
}

// baseModelName strips a trailing -YYYY-MM-DD snapshot date.
func baseModelName(model string) string {
	if len(model) <= 11 {
		return model
	}
	suffix := model[len(model)-11:]
	if suffix[0] != '-' {
		return model
	}
	for i, ch := range suffix[1:] {
		if i == 4 || i == 7 {
			if ch != '-' {
				return model
			}
			continue
		}
		if ch < '0' || ch > '9' {
			return model
		}
	}
	return model[:len(model)-11]
}
