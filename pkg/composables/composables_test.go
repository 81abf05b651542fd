package composables

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

type pageQuery struct {
	Name  string `form:"name"`
	Limit int    `form:"limit"`
}

func TestUseQuery(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/search?name=ann&limit=5", nil)
	q, err := UseQuery(&pageQuery{}, r)
	require.NoError(t, err)
	require.Equal(t, "ann", q.Name)
	require.Equal(t, 5, q.Limit)

	r = httptest.NewRequest(http.MethodGet, "/search?limit=five", nil)
	_, err = UseQuery(&pageQuery{}, r)
	require.Error(t, err)
}

func TestContextValues(t *testing.T) {
	ctx := context.Background()
	_, ok := UseRequestID(ctx)
	require.False(t, ok)
	require.NotNil(t, UseLogger(ctx))

	ctx = WithRequestID(ctx, "req-1")
	id, ok := UseRequestID(ctx)
	require.True(t, ok)
	require.Equal(t, "req-1", id)

	_, err := UseTx(ctx)
	require.ErrorIs(t, err, ErrNoPool)

	_, ok = UseIP(ctx)
	require.False(t, ok)
	ctx = WithParams(ctx, &Params{IP: "10.1.1.1"})
	ip, ok := UseIP(ctx)
	require.True(t, ok)
	require.Equal(t, "10.1.1.1", ip)
}
