package telemetry_test

import (
	"context"
	"testing"

	"github.com/a2a-settlement/a2ase/pkg/config"
	"github.com/a2a-settlement/a2ase/pkg/telemetry"
)

func TestSetupNoopWhenEndpointEmpty(t *testing.T) {
	cfg := &config.Config{OTelEnabled: true}

	shutdown, err := telemetry.Setup(context.Background(), "a2ase-test", cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSetupNoopWhenExplicitlyDisabled(t *testing.T) {
	cfg := &config.Config{OTelEndpoint: "http://localhost:4318", OTelEnabled: false}

	shutdown, err := telemetry.Setup(context.Background(), "a2ase-test", cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSetupNoopWhenConfigNil(t *testing.T) {
	shutdown, err := telemetry.Setup(context.Background(), "a2ase-test", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSetupCreatesProviderWhenEndpointSet(t *testing.T) {
	// Non-routable address so no actual export happens.
	cfg := &config.Config{OTelEndpoint: "http://192.0.2.1:4318", OTelEnabled: true}

	shutdown, err := telemetry.Setup(context.Background(), "a2ase-test", cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Shutdown should flush cleanly even though the endpoint is unreachable.
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}
