package otel

import (
	"context"
	"testing"
)

func TestSetupNoopWhenEndpointEmpty(t *testing.T) {
	t.Setenv("METIS_OTEL_ENDPOINT", "")
	t.Setenv("METIS_OTEL_ENABLED", "")

	shutdown, err := Setup(context.Background(), "missionctl")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSetupNoopWhenExplicitlyDisabled(t *testing.T) {
	t.Setenv("METIS_OTEL_ENDPOINT", "http://localhost:4318")
	t.Setenv("METIS_OTEL_ENABLED", "false")

	shutdown, err := Setup(context.Background(), "missionctl")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSetupRejectsMalformedSampleRatio(t *testing.T) {
	t.Setenv("METIS_OTEL_ENDPOINT", "http://192.0.2.1:4318")
	t.Setenv("METIS_OTEL_SAMPLE_RATIO", "often")

	if _, err := Setup(context.Background(), "missionctl"); err == nil {
		t.Fatal("expected malformed sample ratio error")
	}
}

func TestSetupCreatesProviderWhenEndpointSet(t *testing.T) {
	// Non-routable address so no actual export happens.
	t.Setenv("METIS_OTEL_ENDPOINT", "http://192.0.2.1:4318")
	t.Setenv("METIS_OTEL_ENABLED", "")
	t.Setenv("METIS_OTEL_SAMPLE_RATIO", "0.5")

	shutdown, err := Setup(context.Background(), "missionctl")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSettingsDisabled(t *testing.T) {
	tests := []struct {
		name     string
		settings Settings
		want     bool
	}{
		{"empty endpoint", Settings{}, true},
		{"explicitly disabled", Settings{Endpoint: "http://x", Enabled: "FALSE"}, true},
		{"enabled", Settings{Endpoint: "http://x"}, false},
	}
	for _, tt := range tests {
		if got := tt.settings.Disabled(); got != tt.want {
			t.Fatalf("%s: Disabled() = %v, want %v", tt.name, got, tt.want)
		}
	}
}
