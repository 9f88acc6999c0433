package handlers

import (
	"context"
	"testing"
)

func TestGetHealth(t *testing.T) {
	handler := NewHealthHandler("1.0.0")

	output, err := handler.GetHealth(context.Background(), &HealthInput{})
	if err != nil {
		t.Fatalf("GetHealth returned error: %v", err)
	}

	if output.Body.Status != "healthy" {
		t.Errorf("expected status healthy, got %q", output.Body.Status)
	}
	if output.Body.Version != "1.0.0" {
		t.Errorf("expected version 1.0.0, got %q", output.Body.Version)
	}
	if output.Body.Goroutines <= 0 {
		t.Errorf("expected positive goroutine count, got %d", output.Body.Goroutines)
	}
	if output.Body.Components["database"] != "not_configured" {
		t.Errorf("expected database not_configured, got %q", output.Body.Components["database"])
	}
}

func TestGetLivez(t *testing.T) {
	handler := NewHealthHandler("1.0.0")

	output, err := handler.GetLivez(context.Background(), &LivezInput{})
	if err != nil {
		t.Fatalf("GetLivez returned error: %v", err)
	}
	if output.Body.Status != "ok" {
		t.Errorf("expected ok, got %q", output.Body.Status)
	}
}
