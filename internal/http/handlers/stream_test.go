package handlers

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuhao-tubi/multi-language-live-sub001/internal/config"
	"github.com/yuhao-tubi/multi-language-live-sub001/internal/database"
	"github.com/yuhao-tubi/multi-language-live-sub001/internal/models"
	"github.com/yuhao-tubi/multi-language-live-sub001/internal/observability"
	"github.com/yuhao-tubi/multi-language-live-sub001/internal/repository"
	"github.com/yuhao-tubi/multi-language-live-sub001/internal/service"
)

func newTestStreamHandler(t *testing.T) (*StreamHandler, *repository.JobRepository) {
	t.Helper()

	db, err := database.New(config.DatabaseConfig{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	jobs := repository.NewJobRepository(db)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := service.NewStreamService(&config.Config{}, jobs, logger, observability.NewMetrics())

	return NewStreamHandler(svc), jobs
}

func TestGetStatusNotRunning(t *testing.T) {
	handler, _ := newTestStreamHandler(t)

	_, err := handler.GetStatus(context.Background(), &StreamStatusInput{})
	require.Error(t, err)

	var statusErr huma.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 404, statusErr.GetStatus())
}

func TestStopStreamNotRunning(t *testing.T) {
	handler, _ := newTestStreamHandler(t)

	_, err := handler.StopStream(context.Background(), &StopStreamInput{})
	require.Error(t, err)

	var statusErr huma.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 404, statusErr.GetStatus())
}

func TestListJobsEmpty(t *testing.T) {
	handler, _ := newTestStreamHandler(t)

	output, err := handler.ListJobs(context.Background(), &ListJobsInput{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, output.Body.Jobs)
}

func TestListJobsReturnsHistory(t *testing.T) {
	handler, jobs := newTestStreamHandler(t)

	job := &models.StreamJob{
		StreamID:    "stream-1",
		PlaylistURL: "https://origin.example.com/live/index.m3u8",
		IngestURL:   "rtmp://ingest.example.com/live",
		State:       models.JobStateRunning,
	}
	require.NoError(t, jobs.Create(job))

	output, err := handler.ListJobs(context.Background(), &ListJobsInput{Limit: 10})
	require.NoError(t, err)
	require.Len(t, output.Body.Jobs, 1)
	assert.Equal(t, "stream-1", output.Body.Jobs[0].StreamID)
}
