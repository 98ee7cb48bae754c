package observability

import (
	"context"
	"testing"

	"github.com/robertarktes/equipment-reservations/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestSetupOTel(t *testing.T) {
	ctx := context.Background()

	shutdown, err := SetupOTel(ctx, &config.Config{}, "erv-api")
	require.NoError(t, err)
	shutdown()

	// the exporter dials lazily, so nothing needs to listen on the endpoint
	shutdown, err = SetupOTel(ctx, &config.Config{OTLPEndpoint: "localhost:4317"}, "erv-api")
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	_, span := otel.Tracer("test").Start(ctx, "op")
	assert.True(t, span.SpanContext().IsValid())
	span.End()
	shutdown()
}
