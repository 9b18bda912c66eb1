package taxonomy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"annotation-collab-be/internal/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidTag(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		switch r.URL.Path {
		case "/tags/claim":
			w.WriteHeader(http.StatusOK)
		case "/tags/broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Minute, time.Second, logger.NewNopLogger())
	ctx := context.Background()

	tests := []struct {
		tag  string
		want bool
	}{
		{tag: "claim", want: true},
		{tag: "missing", want: false},
		{tag: "broken", want: true},
	}
	for _, tt := range tests {
		t.Run(tt.tag, func(t *testing.T) {
			got, err := c.ValidTag(ctx, tt.tag)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	before := calls.Load()
	_, _ = c.ValidTag(ctx, "claim")
	_, _ = c.ValidTag(ctx, "missing")
	assert.Equal(t, before, calls.Load(), "answers are cached")

	_, _ = c.ValidTag(ctx, "broken")
	assert.Equal(t, before+1, calls.Load(), "failures are not cached")
}

func TestValidTagWithoutService(t *testing.T) {
	c := NewClient("", time.Minute, time.Second, logger.NewNopLogger())
	ok, err := c.ValidTag(context.Background(), "anything")
	require.NoError(t, err)
	assert.True(t, ok)
}
