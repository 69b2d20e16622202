package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestNewExportsSpans(t *testing.T) {
	var requests atomic.Int32
	var auth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/traces" {
			requests.Add(1)
			auth.Store(r.Header.Get("Authorization"))
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	shutdown, err := New(context.Background(), srv.URL, "secret", "swr-test")
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "swr.regenerate")
	span.End()
	shutdown()

	assert.Equal(t, int32(1), requests.Load())
	assert.Equal(t, "Bearer secret", auth.Load())
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New(context.Background(), "://nope", "", "swr-test")
	assert.Error(t, err)
	_, err = New(context.Background(), "grpc://collector:4317", "", "swr-test")
	assert.Error(t, err)
}
