package telemetry

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestInitDisabledIsNoop(t *testing.T) {
	shutdown, err := Init(Config{})
	require.NoError(t, err)
	_, span := Start(context.Background(), "create_plan")
	assert.False(t, span.SpanContext().IsValid())
	End(span, nil)
	require.NoError(t, shutdown(context.Background()))
}

func TestInitEnabledExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := Init(Config{Enabled: true, ServiceName: "driftguard-test", Writer: &buf})
	require.NoError(t, err)
	t.Cleanup(func() { _, _ = Init(Config{}) })

	_, span := Start(context.Background(), "apply_safe", attribute.String("tenant_id", "t1"))
	assert.True(t, span.SpanContext().IsValid())
	End(span, errors.New("boom"))

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), "apply_safe")
	assert.Contains(t, buf.String(), "boom")
}
