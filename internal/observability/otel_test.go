package observability

import (
	"context"
	"testing"

	"github.com/draftforge/tracebook/internal/config"
)

func TestSetupDisabledReturnsInertRuntime(t *testing.T) {
	t.Parallel()

	runtime, err := Setup(context.Background(), config.OTelConfig{Enabled: false}, "test", nil)
	if err != nil {
		t.Fatalf("Setup() error: %v", err)
	}
	if runtime.Enabled() {
		t.Fatal("disabled config produced enabled runtime")
	}

	// Hooks must be safe without providers.
	runtime.RecordEventWrite(context.Background(), "llm")
	runtime.RecordWriteFailure(context.Background(), "insert_event", "contention")
	if err := runtime.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}

	var nilRuntime *Runtime
	if nilRuntime.Enabled() {
		t.Fatal("nil runtime reported enabled")
	}
	if err := nilRuntime.Shutdown(context.Background()); err != nil {
		t.Fatalf("nil Shutdown() error: %v", err)
	}
}

func TestNormalizeOTLPEndpoint(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name         string
		raw          string
		wantEndpoint string
		wantInsecure bool
		wantErr      bool
	}{
		{"host port", "localhost:4318", "localhost:4318", false, false},
		{"http url", "http://collector:4318", "collector:4318", true, false},
		{"https url", "https://collector:4318", "collector:4318", false, false},
		{"empty", "   ", "", false, true},
		{"bad scheme", "grpc://collector:4317", "", false, true},
		{"missing host", "http://", "", false, true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			endpoint, insecure, err := normalizeOTLPEndpoint(tc.raw)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("normalizeOTLPEndpoint(%q) accepted", tc.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("normalizeOTLPEndpoint(%q) error: %v", tc.raw, err)
			}
			if endpoint != tc.wantEndpoint || insecure != tc.wantInsecure {
				t.Fatalf("normalizeOTLPEndpoint(%q)=(%q, %t), want (%q, %t)",
					tc.raw, endpoint, insecure, tc.wantEndpoint, tc.wantInsecure)
			}
		})
	}
}
