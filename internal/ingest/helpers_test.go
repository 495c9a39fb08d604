package ingest

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/Priya8975/channel-ingest/internal/domain"
	"github.com/Priya8975/channel-ingest/internal/engine"
	ws "github.com/Priya8975/channel-ingest/internal/websocket"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testLimiter() *engine.Limiter {
	return engine.NewLimiter(engine.LimiterConfig{Upstream: "metadata", Concurrency: 4}, testLogger())
}

// fakeSource answers Fetch from a script of results per video id.
type fakeSource struct {
	mu      sync.Mutex
	results map[string][]error
	videos  map[string]domain.Video
	calls   map[string]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		results: make(map[string][]error),
		videos:  make(map[string]domain.Video),
		calls:   make(map[string]int),
	}
}

func (f *fakeSource) Fetch(_ context.Context, videoID string) (domain.Video, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[videoID]++

	if errs := f.results[videoID]; len(errs) > 0 {
		err := errs[0]
		f.results[videoID] = errs[1:]
		if err != nil {
			return domain.Video{}, err
		}
	}
	v, ok := f.videos[videoID]
	if !ok {
		return domain.Video{}, domain.ErrNotFound
	}
	return v, nil
}

func (f *fakeSource) Calls(videoID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[videoID]
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []ws.IngestEvent
}

func (n *recordingNotifier) Broadcast(event ws.IngestEvent) {
	n.mu.Lock()
	n.events = append(n.events, event)
	n.mu.Unlock()
}

func (n *recordingNotifier) Types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	types := make([]string, len(n.events))
	for i, e := range n.events {
		types[i] = e.Type
	}
	return types
}

func timePtr(t time.Time) *time.Time {
	return &t
}
