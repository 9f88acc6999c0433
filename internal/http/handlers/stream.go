package handlers

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/yuhao-tubi/multi-language-live-sub001/internal/models"
	"github.com/yuhao-tubi/multi-language-live-sub001/internal/pipeline"
	"github.com/yuhao-tubi/multi-language-live-sub001/internal/service"
)

// StreamHandler exposes the stream lifecycle over the API.
type StreamHandler struct {
	service *service.StreamService
}

// NewStreamHandler creates a stream handler.
func NewStreamHandler(svc *service.StreamService) *StreamHandler {
	return &StreamHandler{service: svc}
}

// StartStreamInput is the input for starting a stream. All fields are
// optional overrides of the configured defaults.
type StartStreamInput struct {
	Body struct {
		PlaylistURL string `json:"playlist_url,omitempty" doc:"HLS playlist to ingest; defaults to the configured source"`
		IngestURL   string `json:"ingest_url,omitempty" doc:"Push address override"`
		StreamKey   string `json:"stream_key,omitempty" doc:"Stream key override; never echoed back"`
	}
}

// StartStreamOutput returns the created job record.
type StartStreamOutput struct {
	Body models.StreamJob
}

// StopStreamInput is the input for stopping the stream.
type StopStreamInput struct{}

// StopStreamOutput confirms the stop.
type StopStreamOutput struct {
	Body struct {
		Stopped bool `json:"stopped"`
	}
}

// StreamStatusInput is the input for the status endpoint.
type StreamStatusInput struct{}

// StreamStatusOutput carries the pipeline snapshot.
type StreamStatusOutput struct {
	Body pipeline.StatusSnapshot
}

// ListJobsInput is the input for the job history endpoint.
type ListJobsInput struct {
	Limit int `query:"limit" default:"20" minimum:"0" maximum:"500" doc:"Maximum number of jobs to return"`
}

// ListJobsOutput is the job history response.
type ListJobsOutput struct {
	Body struct {
		Jobs []models.StreamJob `json:"jobs"`
	}
}

// Register registers the stream routes with the API.
func (h *StreamHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "startStream",
		Method:      "POST",
		Path:        "/api/v1/stream/start",
		Summary:     "Start the republishing stream",
		Tags:        []string{"Stream"},
	}, h.StartStream)

	huma.Register(api, huma.Operation{
		OperationID: "stopStream",
		Method:      "POST",
		Path:        "/api/v1/stream/stop",
		Summary:     "Stop the running stream",
		Tags:        []string{"Stream"},
	}, h.StopStream)

	huma.Register(api, huma.Operation{
		OperationID: "getStreamStatus",
		Method:      "GET",
		Path:        "/api/v1/stream/status",
		Summary:     "Current pipeline status",
		Tags:        []string{"Stream"},
	}, h.GetStatus)

	huma.Register(api, huma.Operation{
		OperationID: "listJobs",
		Method:      "GET",
		Path:        "/api/v1/jobs",
		Summary:     "Stream job history",
		Tags:        []string{"Stream"},
	}, h.ListJobs)
}

// StartStream starts the pipeline.
func (h *StreamHandler) StartStream(ctx context.Context, input *StartStreamInput) (*StartStreamOutput, error) {
	job, err := h.service.Start(ctx, service.StartRequest{
		PlaylistURL: input.Body.PlaylistURL,
		IngestURL:   input.Body.IngestURL,
		StreamKey:   input.Body.StreamKey,
	})
	if err != nil {
		if errors.Is(err, service.ErrStreamRunning) {
			return nil, huma.Error409Conflict("a stream is already running")
		}
		return nil, huma.Error500InternalServerError("failed to start stream", err)
	}
	return &StartStreamOutput{Body: *job}, nil
}

// StopStream stops the pipeline.
func (h *StreamHandler) StopStream(ctx context.Context, _ *StopStreamInput) (*StopStreamOutput, error) {
	if err := h.service.Stop(ctx); err != nil {
		if errors.Is(err, service.ErrStreamNotRunning) {
			return nil, huma.Error404NotFound("no stream is running")
		}
		return nil, huma.Error500InternalServerError("failed to stop stream", err)
	}
	out := &StopStreamOutput{}
	out.Body.Stopped = true
	return out, nil
}

// GetStatus returns the pipeline snapshot for the running stream.
func (h *StreamHandler) GetStatus(ctx context.Context, _ *StreamStatusInput) (*StreamStatusOutput, error) {
	status, running := h.service.Status()
	if !running {
		return nil, huma.Error404NotFound("no stream is running")
	}
	return &StreamStatusOutput{Body: status}, nil
}

// ListJobs returns recent stream jobs, newest first.
func (h *StreamHandler) ListJobs(ctx context.Context, input *ListJobsInput) (*ListJobsOutput, error) {
	jobs, err := h.service.Jobs(input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list jobs", err)
	}
	out := &ListJobsOutput{}
	out.Body.Jobs = jobs
	return out, nil
}
