package api

import (
	"context"
	"errors"
	"net/http"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func setupTestTracer(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter) {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
	)
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			t.Logf("shutdown tracer provider: %v", err)
		}
		otel.SetTracerProvider(prev)
	})
	return tp, exporter
}

func attributesToMap(attrs []attribute.KeyValue) map[string]any {
	out := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}

func TestRequestMetricsLogAndSpan(t *testing.T) {
	logger, hook := test.NewNullLogger()
	_, exporter := setupTestTracer(t)

	m, ctx := newRequestMetrics(context.Background(), logger, "/api/todos")
	if ctx == nil {
		t.Fatalf("expected span context")
	}
	m.SetUser("u1")
	m.SetTodosReturned(3)
	m.Log(http.StatusOK, nil)

	entry := hook.LastEntry()
	if entry == nil || entry.Message != todosEventName || entry.Level != log.InfoLevel {
		t.Fatalf("unexpected log entry: %+v", entry)
	}
	if entry.Data["route"] != "/api/todos" || entry.Data["user_id"] != "u1" || entry.Data["todos_returned"] != 3 {
		t.Fatalf("unexpected fields: %+v", entry.Data)
	}
	if traceID, ok := entry.Data["trace_id"].(string); !ok || traceID == "" {
		t.Fatalf("expected trace_id, got %#v", entry.Data["trace_id"])
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Name != todosSpanName || span.Status.Code != codes.Ok {
		t.Fatalf("unexpected span: %s %v", span.Name, span.Status)
	}
	attrs := attributesToMap(span.Attributes)
	if attrs["http.route"] != "/api/todos" || attrs["enduser.id"] != "u1" {
		t.Fatalf("unexpected span attributes: %#v", attrs)
	}
	if code, ok := attrs["http.status_code"].(int64); !ok || code != http.StatusOK {
		t.Fatalf("unexpected status attribute: %#v", attrs["http.status_code"])
	}
	if _, ok := attrs["todos.error_stage"]; ok {
		t.Fatalf("unexpected error stage on success")
	}
}

func TestRequestMetricsErrorStatus(t *testing.T) {
	logger, hook := test.NewNullLogger()
	_, exporter := setupTestTracer(t)

	m, _ := newRequestMetrics(context.Background(), logger, "/api/todos")
	m.SetErrorStage("store")
	boom := errors.New("table unavailable")
	m.Log(http.StatusBadGateway, boom)

	entry := hook.LastEntry()
	if entry.Level != log.ErrorLevel || entry.Data["error_stage"] != "store" || entry.Data["error"] != boom.Error() {
		t.Fatalf("unexpected entry: %+v", entry.Data)
	}

	span := exporter.GetSpans()[0]
	if span.Status.Code != codes.Error || span.Status.Description == "" {
		t.Fatalf("expected error status, got %v", span.Status)
	}
	var event sdktrace.Event
	for _, ev := range span.Events {
		if ev.Name == todosEventName {
			event = ev
		}
	}
	attrs := attributesToMap(event.Attributes)
	if attrs["severity_text"] != "ERROR" || attrs["error.message"] != boom.Error() || attrs["event.domain"] != todosEventDomain {
		t.Fatalf("unexpected event attributes: %#v", attrs)
	}
}

func TestSeverityForStatus(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		err        error
		wantText   string
		wantNumber int
	}{
		{name: "ok", status: http.StatusOK, wantText: "INFO", wantNumber: 9},
		{name: "warn", status: http.StatusConflict, wantText: "WARN", wantNumber: 13},
		{name: "error", status: http.StatusBadGateway, wantText: "ERROR", wantNumber: 17},
		{name: "errorFromErr", status: http.StatusNoContent, err: errors.New("x"), wantText: "ERROR", wantNumber: 17},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotText, gotNumber := severityForStatus(tt.status, tt.err)
			if gotText != tt.wantText || gotNumber != tt.wantNumber {
				t.Fatalf("severityForStatus(%d, %v) = %s/%d, want %s/%d", tt.status, tt.err, gotText, gotNumber, tt.wantText, tt.wantNumber)
			}
		})
	}
}
