// Package ffmpeg provides FFmpeg binary detection and subprocess wrappers
// for the demux, remux, and publish stages.
package ffmpeg

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"
)

// BinaryInfo contains information about the FFmpeg installation.
type BinaryInfo struct {
	FFmpegPath  string `json:"ffmpeg_path"`
	FFprobePath string `json:"ffprobe_path"`
	Version     string `json:"version"`
}

var (
	detectOnce   sync.Once
	detectedInfo *BinaryInfo
	detectErr    error
)

var versionRe = regexp.MustCompile(`ffmpeg version (\S+)`)

// Detect locates the ffmpeg and ffprobe binaries. Explicit paths take
// precedence over PATH lookup. The result is cached for the process lifetime.
func Detect(ctx context.Context, ffmpegPath, ffprobePath string) (*BinaryInfo, error) {
	detectOnce.Do(func() {
		detectedInfo, detectErr = detect(ctx, ffmpegPath, ffprobePath)
	})
	return detectedInfo, detectErr
}

func detect(ctx context.Context, ffmpegPath, ffprobePath string) (*BinaryInfo, error) {
	info := &BinaryInfo{FFmpegPath: ffmpegPath, FFprobePath: ffprobePath}

	if info.FFmpegPath == "" {
		path, err := exec.LookPath("ffmpeg")
		if err != nil {
			return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
		}
		info.FFmpegPath = path
	}
	if info.FFprobePath == "" {
		if path, err := exec.LookPath("ffprobe"); err == nil {
			info.FFprobePath = path
		}
	}

	version, err := probeVersion(ctx, info.FFmpegPath)
	if err != nil {
		return nil, err
	}
	info.Version = version

	return info, nil
}

// probeVersion runs `ffmpeg -version` and extracts the version string.
func probeVersion(ctx context.Context, binary string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, binary, "-version").Output()
	if err != nil {
		return "", fmt.Errorf("running %s -version: %w", binary, err)
	}

	m := versionRe.FindStringSubmatch(string(out))
	if m == nil {
		firstLine, _, _ := strings.Cut(string(out), "\n")
		return "", fmt.Errorf("unexpected ffmpeg version output: %q", firstLine)
	}
	return m[1], nil
}
