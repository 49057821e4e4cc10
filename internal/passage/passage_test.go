package passage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticProviderReturnsKnownPassage(t *testing.T) {
	p := NewStaticProvider(1)
	text, err := p.Random(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, text)
	assert.Contains(t, Static, text)
}

type failingProvider struct{}

func (failingProvider) Random(ctx context.Context) (string, error) {
	return "", errors.New("boom")
}

func TestCompositeFallsBackOnNilStore(t *testing.T) {
	c := NewComposite(nil, NewStaticProvider(2), nil)
	text, err := c.Random(context.Background())
	require.NoError(t, err)
	assert.Contains(t, Static, text)
}
