package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), Config{Enabled: false})
	require.NoError(t, err)

	assert.False(t, tel.IsEnabled())
	assert.NotNil(t, tel.Tracer("test"))
	assert.NotNil(t, tel.Meter("test"))
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNew_DisabledTracerRecordsNothing(t *testing.T) {
	tel, err := New(context.Background(), Config{})
	require.NoError(t, err)

	_, span := tel.Tracer("test").Start(context.Background(), "op")
	assert.False(t, span.IsRecording())
	span.End()
}
