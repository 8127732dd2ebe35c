package billing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllowed(t *testing.T) {
	require.True(t, Allowed(10, 4, 6))
	require.False(t, Allowed(10, 4, 6.01))
	require.True(t, Allowed(0, 0, -1))
	require.False(t, Allowed(1, 2, 0))
}

func TestUnlimited(t *testing.T) {
	var g Gate = Unlimited{}
	ok, err := g.Reserve(context.Background(), "owner", "p1", 1e9)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, g.RecordActual(context.Background(), "owner", "p1", 3))
}
