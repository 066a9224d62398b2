package tracer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tutorchat/internal/config"
)

func TestInitDisabledIsNoop(t *testing.T) {
	shutdown := Init(context.Background(), config.TelemetryConfig{}, zap.NewNop())
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}
