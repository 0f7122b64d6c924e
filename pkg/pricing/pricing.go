// Package pricing computes the dollar cost of model API calls from
// per-token rate tables.
package pricing

import (
	"errors"
	"fmt"
)

// ErrUnknownModel is returned when a model has no rate table entry. This is a
// configuration error and is never retried.
var ErrUnknownModel = errors.New("unknown model")

// Usage holds the token counters reported by the provider for one call.
// Cache counters are only populated when prompt caching was enabled.
type Usage struct {
	InputTokens      int `json:"input_tokens"`
	OutputTokens     int `json:"output_tokens"`
	CacheWriteTokens int `json:"cache_write_tokens,omitempty"`
	CacheReadTokens  int `json:"cache_read_tokens,omitempty"`
}

type rates struct {
	input      float64
	output     float64
	cacheWrite float64
	cacheRead  float64
}

// Dollar price per token. Cache writes cost 1.25x the input rate and cache
// reads 0.1x, per the provider's published pricing.
var models = map[string]rates{
	"claude-3-haiku-20240307": {
		input:      0.00000025,
		output:     0.00000125,
		cacheWrite: 0.0000003,
		cacheRead:  0.00000003,
	},
	"claude-3-5-sonnet-20240620": {
		input:      0.000003,
		output:     0.000015,
		cacheWrite: 0.00000375,
		cacheRead:  0.0000003,
	},
	"claude-3-opus-20240229": {
		input:      0.000015,
		output:     0.000075,
		cacheWrite: 0.00001875,
		cacheRead:  0.0000015,
	},
}

// Price returns the dollar cost of one API call. When caching is disabled the
// cache counters are ignored even if present.
func Price(model string, u Usage, caching bool) (float64, error) {
	r, ok := models[model]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownModel, model)
	}

	cost := r.input*float64(u.InputTokens) + r.output*float64(u.OutputTokens)
	if caching {
		cost += r.cacheWrite*float64(u.CacheWriteTokens) + r.cacheRead*float64(u.CacheReadTokens)
	}
	return cost, nil
}

// KnownModel reports whether a rate table entry exists for the model.
func KnownModel(model string) bool {
	_, ok := models[model]
	return ok
}
