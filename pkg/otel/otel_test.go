package otel

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig("test-service")

	assert.Equal(t, "test-service", config.ServiceName)
	assert.NotEmpty(t, config.ServiceVersion)
	assert.NotEmpty(t, config.CollectorEndpoint)
	assert.InDelta(t, 1.0, config.SamplingRate, 0)
}

func TestArmAttributes(t *testing.T) {
	attrs := ArmAttributes("checkout", "green")
	require.Len(t, attrs, 2)
	assert.Equal(t, AttrArm, attrs[1].Key)
	assert.Equal(t, "green", attrs[1].Value.AsString())

	assert.Len(t, ArmAttributes("checkout", ""), 1)
}

func TestReconcileAttributes(t *testing.T) {
	attrs := ReconcileAttributes([]string{"a"}, nil, []string{"b", "c"}, 1)
	require.Len(t, attrs, 4)
	assert.Equal(t, []string{"b", "c"}, attrs[2].Value.AsStringSlice())
	assert.Equal(t, int64(1), attrs[3].Value.AsInt64())
}

func TestStartSpan_RecordError(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	_, span := StartSpan(context.Background(), "bandit.pull", ArmAttributes("checkout", "green")...)
	AddEvent(span, "action.done")
	RecordError(span, errors.New("boom"), "action failed")
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "bandit.pull", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Len(t, spans[0].Attributes(), 2)

	// action.done plus the exception event
	assert.Len(t, spans[0].Events(), 2)
}

func TestHelpers_NilSafe(t *testing.T) {
	RecordError(nil, errors.New("x"), "")
	AddEvent(nil, "x")
	assert.NoError(t, Shutdown(context.Background(), nil))
}
