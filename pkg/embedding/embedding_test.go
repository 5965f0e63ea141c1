package embedding

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeProviderPreservesOrderAndWidth(t *testing.T) {
	p := NewFakeProvider(4)
	vecs, err := p.Embed(context.Background(), "model-a", []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	for _, v := range vecs {
		assert.Len(t, v, 4)
	}
	assert.Equal(t, 1, p.Calls())
}

func TestFakeProviderCanFail(t *testing.T) {
	p := NewFakeProvider(4)
	p.FailWith = ErrUnavailable

	_, err := p.Embed(context.Background(), "model-a", []string{"x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestFakeProviderDimension(t *testing.T) {
	p := NewFakeProvider(16)
	assert.Equal(t, 16, p.Dimension("model-a"))
}
