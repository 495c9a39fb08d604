// Package devhub is a minimal WebSub hub for local development. It verifies
// subscribers with the challenge handshake and pushes signed YouTube-style
// Atom notifications on demand.
package devhub

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"text/template"
	"time"

	"github.com/Priya8975/channel-ingest/internal/hub"
	"github.com/Priya8975/channel-ingest/internal/webhook"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

type subscription struct {
	Topic     string    `json:"topic"`
	Callback  string    `json:"callback"`
	ChannelID string    `json:"channel_id"`
	Lease     int       `json:"lease_seconds"`
	Verified  time.Time `json:"verified_at"`
	secret    string
}

// Hub keeps verified subscriptions in memory.
type Hub struct {
	client *http.Client
	logger *slog.Logger

	// failSubscribe answers this many subscribe requests with 503.
	failSubscribe atomic.Int64
	requests      atomic.Int64
	pushes        atomic.Int64

	mu   sync.RWMutex
	subs map[string]subscription
	wg   sync.WaitGroup
}

func New(failSubscribe int, logger *slog.Logger) *Hub {
	h := &Hub{
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
		subs:   make(map[string]subscription),
	}
	h.failSubscribe.Store(int64(failSubscribe))
	return h
}

func (h *Hub) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/subscribe", h.Subscribe)
	r.Post("/publish", h.Publish)
	r.Get("/subscriptions", h.List)
	r.Get("/stats", h.Stats)
	return r
}

// Wait blocks until every pending verification has finished.
func (h *Hub) Wait() {
	h.wg.Wait()
}

// Subscribe accepts a subscription request and verifies it asynchronously.
func (h *Hub) Subscribe(w http.ResponseWriter, r *http.Request) {
	h.requests.Add(1)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	mode := r.PostForm.Get("hub.mode")
	topic := r.PostForm.Get("hub.topic")
	callback := r.PostForm.Get("hub.callback")
	if topic == "" || callback == "" || (mode != hub.ModeSubscribe && mode != hub.ModeUnsubscribe) {
		http.Error(w, "hub.mode, hub.topic and hub.callback are required", http.StatusBadRequest)
		return
	}

	if h.failSubscribe.Load() > 0 && h.failSubscribe.Add(-1) >= 0 {
		h.logger.Info("simulating hub outage", "topic", topic)
		w.Header().Set("Retry-After", "1")
		http.Error(w, "hub unavailable", http.StatusServiceUnavailable)
		return
	}

	lease, _ := strconv.Atoi(r.PostForm.Get("hub.lease_seconds"))
	if lease <= 0 {
		lease = 432000
	}
	sub := subscription{
		Topic:     topic,
		Callback:  callback,
		ChannelID: hub.ChannelFromTopic(topic),
		Lease:     lease,
		secret:    r.PostForm.Get("hub.secret"),
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		h.verify(ctx, mode, sub)
	}()

	w.WriteHeader(http.StatusAccepted)
}

func (h *Hub) verify(ctx context.Context, mode string, sub subscription) {
	challenge := uuid.NewString()

	q := url.Values{}
	q.Set("hub.mode", mode)
	q.Set("hub.topic", sub.Topic)
	q.Set("hub.challenge", challenge)
	if mode == hub.ModeSubscribe {
		q.Set("hub.lease_seconds", strconv.Itoa(sub.Lease))
	}

	target, err := url.Parse(sub.Callback)
	if err != nil {
		h.logger.Warn("invalid callback", "error", err, "callback", sub.Callback)
		return
	}
	target.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return
	}
	resp, err := h.client.Do(req)
	if err != nil {
		h.logger.Warn("verification request failed", "error", err, "topic", sub.Topic)
		return
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	if resp.StatusCode != http.StatusOK || string(body) != challenge {
		h.logger.Warn("verification rejected", "status", resp.StatusCode, "topic", sub.Topic, "mode", mode)
		return
	}

	h.mu.Lock()
	if mode == hub.ModeSubscribe {
		sub.Verified = time.Now().UTC()
		h.subs[sub.Topic] = sub
	} else {
		delete(h.subs, sub.Topic)
	}
	h.mu.Unlock()
	h.logger.Info("subscription verified", "mode", mode, "topic", sub.Topic, "lease_seconds", sub.Lease)
}

var entryTemplate = template.Must(template.New("feed").Parse(`<?xml version='1.0' encoding='UTF-8'?>
<feed xmlns:yt="http://www.youtube.com/xml/schemas/2015" xmlns="http://www.w3.org/2005/Atom">
  <link rel="hub" href="https://pubsubhubbub.appspot.com"/>
  <link rel="self" href="{{.Topic}}"/>
  <title>YouTube video feed</title>
  <updated>{{.Now}}</updated>
  <entry>
    <id>yt:video:{{.VideoID}}</id>
    <yt:videoId>{{.VideoID}}</yt:videoId>
    <yt:channelId>{{.ChannelID}}</yt:channelId>
    <title>{{html .Title}}</title>
    <link rel="alternate" href="https://www.youtube.com/watch?v={{.VideoID}}"/>
    <author>
      <name>{{.ChannelID}}</name>
      <uri>https://www.youtube.com/channel/{{.ChannelID}}</uri>
    </author>
    <published>{{.Now}}</published>
    <updated>{{.Now}}</updated>
  </entry>
</feed>`))

type publishResult struct {
	Callback string `json:"callback"`
	Status   int    `json:"status"`
	Error    string `json:"error,omitempty"`
}

// Publish pushes a notification for channel_id/video_id to every verified
// subscriber of that channel.
func (h *Hub) Publish(w http.ResponseWriter, r *http.Request) {
	h.requests.Add(1)
	channelID := r.URL.Query().Get("channel_id")
	videoID := r.URL.Query().Get("video_id")
	if channelID == "" || videoID == "" {
		http.Error(w, "channel_id and video_id are required", http.StatusBadRequest)
		return
	}
	title := r.URL.Query().Get("title")
	if title == "" {
		title = "Video " + videoID
	}

	var targets []subscription
	h.mu.RLock()
	for _, sub := range h.subs {
		if sub.ChannelID == channelID {
			targets = append(targets, sub)
		}
	}
	h.mu.RUnlock()

	results := make([]publishResult, 0, len(targets))
	for _, sub := range targets {
		var buf bytes.Buffer
		entryTemplate.Execute(&buf, map[string]string{
			"Topic":     sub.Topic,
			"VideoID":   videoID,
			"ChannelID": channelID,
			"Title":     title,
			"Now":       time.Now().UTC().Format(time.RFC3339),
		})
		results = append(results, h.push(r.Context(), sub, buf.Bytes()))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(results)
}

func (h *Hub) push(ctx context.Context, sub subscription, body []byte) publishResult {
	h.pushes.Add(1)
	result := publishResult{Callback: sub.Callback}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.Callback, bytes.NewReader(body))
	if err != nil {
		result.Error = err.Error()
		return result
	}
	req.Header.Set("Content-Type", "application/atom+xml")
	if sub.secret != "" {
		sig, err := webhook.Sign("sha1", sub.secret, body)
		if err != nil {
			result.Error = err.Error()
			return result
		}
		req.Header.Set(webhook.SignatureHeader, sig)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	resp.Body.Close()
	result.Status = resp.StatusCode
	h.logger.Info("push delivered", "callback", sub.Callback, "status", resp.StatusCode)
	return result
}

func (h *Hub) List(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	subs := make([]subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(subs)
}

// Stats shows request counters.
func (h *Hub) Stats(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	active := len(h.subs)
	h.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int64{
		"total_requests":       h.requests.Load(),
		"pushes":               h.pushes.Load(),
		"active_subscriptions": int64(active),
	})
}
