package providers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type namedProvider string

func (n namedProvider) Name() string { return string(n) }

func (n namedProvider) Fetch(context.Context, string, time.Time, time.Time) (FetchResult, error) {
	return FetchResult{Status: StatusOK, Message: "ok"}, nil
}

func TestRegistry_Lookup(t *testing.T) {
	r := NewRegistry(namedProvider("fred"), namedProvider("yfinance"))

	p, err := r.Lookup("fred")
	require.NoError(t, err)
	assert.Equal(t, "fred", p.Name())

	assert.Equal(t, []string{"fred", "yfinance"}, r.IDs())
}

func TestRegistry_LookupUnknown(t *testing.T) {
	r := NewRegistry(namedProvider("fred"))

	_, err := r.Lookup("bloomberg")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedProvider))
	assert.Contains(t, err.Error(), "bloomberg")
}

func TestRegistry_NilLookup(t *testing.T) {
	var r *Registry
	_, err := r.Lookup("fred")
	assert.ErrorIs(t, err, ErrUnsupportedProvider)
}

func TestParseStatus(t *testing.T) {
	for _, s := range []string{"ok", "warn", "error", "missing"} {
		got, err := ParseStatus(s)
		require.NoError(t, err)
		assert.Equal(t, Status(s), got)
	}

	_, err := ParseStatus("OK")
	assert.Error(t, err)
}
