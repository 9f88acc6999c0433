package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/yuhao-tubi/multi-language-live-sub001/internal/httpclient"
	"github.com/yuhao-tubi/multi-language-live-sub001/internal/models"
)

// playlistServer serves a mutable media playlist plus fixed segment bodies.
type playlistServer struct {
	mu       sync.Mutex
	playlist string
	srv      *httptest.Server
}

func newPlaylistServer(t *testing.T) *playlistServer {
	t.Helper()
	ps := &playlistServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/live/stream.m3u8", func(w http.ResponseWriter, r *http.Request) {
		ps.mu.Lock()
		defer ps.mu.Unlock()
		io.WriteString(w, ps.playlist)
	})
	mux.HandleFunc("/live/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("tsdata-" + filepath.Base(r.URL.Path)))
	})
	ps.srv = httptest.NewServer(mux)
	t.Cleanup(ps.srv.Close)
	return ps
}

func (ps *playlistServer) setPlaylist(mediaSeq int, uris ...string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	body := fmt.Sprintf("#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:10\n#EXT-X-MEDIA-SEQUENCE:%d\n", mediaSeq)
	for _, uri := range uris {
		body += "#EXTINF:10,\n" + uri + "\n"
	}
	ps.playlist = body
}

func (ps *playlistServer) url() string {
	return ps.srv.URL + "/live/stream.m3u8"
}

func newTestSource(t *testing.T, playlistURL string) *HLSSource {
	t.Helper()
	cfg := httpclient.DefaultConfig()
	cfg.RetryAttempts = 0
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewHLSSource(HLSOptions{
		PlaylistURL:  playlistURL,
		WorkDir:      t.TempDir(),
		PollInterval: 20 * time.Millisecond,
		Client:       httpclient.New(cfg),
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func collect(t *testing.T, src *HLSSource, n int, timeout time.Duration) []models.SegmentDescriptor {
	t.Helper()
	var got []models.SegmentDescriptor
	deadline := time.After(timeout)
	for len(got) < n {
		select {
		case desc, ok := <-src.Segments():
			if !ok {
				t.Fatalf("segments channel closed after %d of %d", len(got), n)
			}
			got = append(got, desc)
		case <-deadline:
			t.Fatalf("timeout waiting for %d segments, got %d", n, len(got))
		}
	}
	return got
}

func TestDownloadsSegmentsInOrder(t *testing.T) {
	ps := newPlaylistServer(t)
	ps.setPlaylist(0, "seg0.ts", "seg1.ts", "seg2.ts")

	src := newTestSource(t, ps.url())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		src.Run(ctx)
		close(done)
	}()

	got := collect(t, src, 3, 2*time.Second)
	cancel()
	<-done

	for i, desc := range got {
		if desc.Sequence != int64(i) {
			t.Errorf("segment %d: sequence = %d, want %d", i, desc.Sequence, i)
		}
		if desc.Duration != 10*time.Second {
			t.Errorf("segment %d: duration = %v, want 10s", i, desc.Duration)
		}
		data, err := os.ReadFile(desc.Path)
		if err != nil {
			t.Fatalf("segment %d not on disk: %v", i, err)
		}
		if want := "tsdata-" + desc.ID; string(data) != want {
			t.Errorf("segment %d: body = %q, want %q", i, data, want)
		}
	}
}

func TestSkipsAlreadyDownloaded(t *testing.T) {
	ps := newPlaylistServer(t)
	ps.setPlaylist(0, "seg0.ts", "seg1.ts")

	src := newTestSource(t, ps.url())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		src.Run(ctx)
		close(done)
	}()

	collect(t, src, 2, 2*time.Second)

	// Sliding window: seg1 repeats, seg2 is new.
	ps.setPlaylist(1, "seg1.ts", "seg2.ts")
	got := collect(t, src, 1, 2*time.Second)
	cancel()
	<-done

	if got[0].Sequence != 2 {
		t.Errorf("sequence = %d, want 2", got[0].Sequence)
	}
	if got[0].ID != "seg2.ts" {
		t.Errorf("id = %q, want seg2.ts", got[0].ID)
	}
	if src.Stats().SegmentsFetched != 3 {
		t.Errorf("segmentsFetched = %d, want 3", src.Stats().SegmentsFetched)
	}
}

func TestResolvesMultivariantToHighestBandwidth(t *testing.T) {
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/master.m3u8", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "#EXTM3U\n"+
			"#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=640x360\nlow/index.m3u8\n"+
			"#EXT-X-STREAM-INF:BANDWIDTH=2400000,RESOLUTION=1280x720\nhigh/index.m3u8\n")
	})
	mux.HandleFunc("/high/index.m3u8", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:6\n#EXT-X-MEDIA-SEQUENCE:0\n#EXTINF:6,\nseg0.ts\n")
	})
	mux.HandleFunc("/high/seg0.ts", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hq"))
	})
	mux.HandleFunc("/low/", func(w http.ResponseWriter, r *http.Request) {
		t.Error("low-bandwidth variant should not be fetched")
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	src := newTestSource(t, srv.URL+"/master.m3u8")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		src.Run(ctx)
		close(done)
	}()

	got := collect(t, src, 1, 2*time.Second)
	cancel()
	<-done

	if got[0].ID != "seg0.ts" {
		t.Errorf("id = %q, want seg0.ts", got[0].ID)
	}
	if got[0].Size != 2 {
		t.Errorf("size = %d, want 2", got[0].Size)
	}
}

func TestStaleCounterAdvances(t *testing.T) {
	ps := newPlaylistServer(t)
	ps.setPlaylist(0, "seg0.ts")

	src := newTestSource(t, ps.url())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		src.Run(ctx)
		close(done)
	}()

	collect(t, src, 1, 2*time.Second)

	// Playlist stops advancing.
	waitFor(t, 2*time.Second, func() bool {
		return src.Stats().ConsecutiveStale >= 2
	})
	cancel()
	<-done
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestAbsolutizeURL(t *testing.T) {
	tests := []struct {
		name     string
		playlist string
		segment  string
		want     string
	}{
		{
			name:     "relative",
			playlist: "https://cdn.example.com/live/stream.m3u8",
			segment:  "seg0.ts",
			want:     "https://cdn.example.com/live/seg0.ts",
		},
		{
			name:     "absolute passthrough",
			playlist: "https://cdn.example.com/live/stream.m3u8",
			segment:  "https://other.example.com/seg0.ts",
			want:     "https://other.example.com/seg0.ts",
		},
		{
			name:     "parent path",
			playlist: "https://cdn.example.com/live/hd/stream.m3u8",
			segment:  "../seg0.ts",
			want:     "https://cdn.example.com/live/seg0.ts",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := absolutizeURL(tt.playlist, tt.segment); got != tt.want {
				t.Errorf("absolutizeURL(%q, %q) = %q, want %q", tt.playlist, tt.segment, got, tt.want)
			}
		})
	}
}
