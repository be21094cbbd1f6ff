package tracing

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestInitStdoutExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	ctx := context.Background()
	shutdown, err := Init(ctx, Config{ServiceVersion: "test", Stdout: true, Writer: &buf})
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	_, span := Start(ctx, "tracing_test", "unit", attribute.String("direction", "mastodon-to-bluesky"))
	End(span, errors.New("boom"))

	if err := shutdown(ctx); err != nil {
		t.Fatalf("shutdown error = %v", err)
	}
	out := buf.String()
	for _, want := range []string{`"Name": "unit"`, "mastodon-to-bluesky", "boom"} {
		if !strings.Contains(out, want) {
			t.Errorf("exported spans missing %q", want)
		}
	}
}

func TestInitWithoutExporter(t *testing.T) {
	ctx := context.Background()
	shutdown, err := Init(ctx, Config{})
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	_, span := Start(ctx, "tracing_test", "dropped")
	End(span, nil)
	if err := shutdown(ctx); err != nil {
		t.Fatalf("shutdown error = %v", err)
	}
}
