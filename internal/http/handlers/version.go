package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/yuhao-tubi/multi-language-live-sub001/internal/version"
)

// VersionHandler serves build information.
type VersionHandler struct{}

// NewVersionHandler creates a version handler.
func NewVersionHandler() *VersionHandler {
	return &VersionHandler{}
}

// VersionInput is the input for the version endpoint.
type VersionInput struct{}

// VersionOutput carries the build info.
type VersionOutput struct {
	Body version.Info
}

// Register registers the version route with the API.
func (h *VersionHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getVersion",
		Method:      "GET",
		Path:        "/version",
		Summary:     "Build and version information",
		Tags:        []string{"System"},
	}, h.GetVersion)
}

// GetVersion returns the build information.
func (h *VersionHandler) GetVersion(ctx context.Context, _ *VersionInput) (*VersionOutput, error) {
	return &VersionOutput{Body: version.GetInfo()}, nil
}
