package pricing

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriceWithCaching(t *testing.T) {
	u := Usage{
		InputTokens:      1000,
		OutputTokens:     500,
		CacheWriteTokens: 200,
		CacheReadTokens:  300,
	}

	got, err := Price("claude-3-haiku-20240307", u, true)
	require.NoError(t, err)

	want := 0.00000025*1000 + 0.00000125*500 + 0.0000003*200 + 0.00000003*300
	assert.InDelta(t, want, got, 1e-12)
}

func TestPriceWithoutCachingIgnoresCacheTokens(t *testing.T) {
	u := Usage{
		InputTokens:      1000,
		OutputTokens:     500,
		CacheWriteTokens: 200,
		CacheReadTokens:  300,
	}

	got, err := Price("claude-3-5-sonnet-20240620", u, false)
	require.NoError(t, err)

	want := 0.000003*1000 + 0.000015*500
	assert.InDelta(t, want, got, 1e-12)
}

func TestPriceUnknownModel(t *testing.T) {
	_, err := Price("invalid-model", Usage{InputTokens: 10}, true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownModel))
}

func TestKnownModel(t *testing.T) {
	assert.True(t, KnownModel("claude-3-haiku-20240307"))
	assert.False(t, KnownModel("gpt-nonexistent"))
}
