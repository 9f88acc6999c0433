package handlers

import (
	"context"
	"testing"
)

func TestGetVersion(t *testing.T) {
	handler := NewVersionHandler()

	output, err := handler.GetVersion(context.Background(), &VersionInput{})
	if err != nil {
		t.Fatalf("GetVersion returned error: %v", err)
	}
	if output.Body.Version == "" {
		t.Error("expected non-empty version")
	}
	if output.Body.GoVersion == "" {
		t.Error("expected non-empty go version")
	}
}
