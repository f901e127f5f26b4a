// Package sync mirrors the event log to external calendar endpoints. Each
// configured mirror follows the events table with its own cursor; delivery
// is at-least-once and in order per mirror.
package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"signalnoise/internal/config"
	"signalnoise/internal/domain"
	"signalnoise/internal/repo"
)

const (
	defaultInterval = 2 * time.Second
	defaultTimeout  = 5 * time.Second
	defaultBatch    = 100
)

// slotEventPrefix is the default filter: mirrors only care about calendar
// changes unless their config names other event types.
const slotEventPrefix = "slot."

type Dispatcher struct {
	repo    repo.Repo
	profile string
	mirrors []config.MirrorConfig
	client  *http.Client
	logger  *slog.Logger

	mu      sync.Mutex
	cursors map[int]int64
	stop    chan struct{}
	done    chan struct{}
}

// Start launches the mirror loop when at least one mirror is configured.
// Returns nil when mirroring is not configured.
func Start(r repo.Repo, cfg *config.Config, logger *slog.Logger) *Dispatcher {
	if cfg == nil || len(cfg.Mirrors) == 0 {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		repo:    r,
		profile: cfg.Profile.ID,
		mirrors: cfg.Mirrors,
		client:  &http.Client{Timeout: defaultTimeout},
		logger:  logger,
		cursors: make(map[int]int64),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) Stop() {
	if d == nil {
		return
	}
	close(d.stop)
	<-d.done
}

func (d *Dispatcher) run() {
	defer close(d.done)
	ticker := time.NewTicker(defaultInterval)
	defer ticker.Stop()
	for {
		d.dispatchAll()
		select {
		case <-ticker.C:
		case <-d.stop:
			return
		}
	}
}

func (d *Dispatcher) dispatchAll() {
	for i, m := range d.mirrors {
		if m.Enabled != nil && !*m.Enabled {
			continue
		}
		if strings.TrimSpace(m.URL) == "" {
			continue
		}
		d.dispatchMirror(i, m)
	}
}

func (d *Dispatcher) dispatchMirror(idx int, m config.MirrorConfig) {
	ctx := context.Background()
	cursor := d.cursorFor(idx)
	events, err := d.repo.EventsAfter(ctx, defaultBatch, cursor)
	if err != nil {
		d.logger.Error("mirror: fetch events failed", "error", err)
		return
	}
	filter := newEventFilter(m.Events)
	for _, evt := range events {
		if !filter.match(evt.Type) {
			d.setCursor(idx, evt.ID)
			continue
		}
		if err := d.postEvent(ctx, m, evt); err != nil {
			d.logger.Error("mirror: delivery failed", "url", m.URL, "error", err)
			return
		}
		d.setCursor(idx, evt.ID)
	}
}

// cursorFor lazily initializes a mirror's cursor at the current log head so
// a freshly configured mirror does not replay history.
func (d *Dispatcher) cursorFor(idx int) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[idx]; ok {
		return cur
	}
	cur, err := d.repo.LatestEventID(context.Background())
	if err != nil {
		d.logger.Error("mirror: init cursor failed", "error", err)
		cur = 0
	}
	d.cursors[idx] = cur
	return cur
}

func (d *Dispatcher) setCursor(idx int, value int64) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

type mirrorEvent struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	ProfileID  string          `json:"profile_id,omitempty"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
}

func (d *Dispatcher) postEvent(ctx context.Context, m config.MirrorConfig, evt domain.Event) error {
	payload := json.RawMessage("{}")
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	body := mirrorEvent{
		ID:         evt.ID,
		Type:       evt.Type,
		ProfileID:  d.profile,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		TS:         evt.TS,
		Payload:    payload,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	client := d.client
	if m.TimeoutSeconds > 0 {
		timeout := time.Duration(m.TimeoutSeconds) * time.Second
		if timeout != d.client.Timeout {
			client = &http.Client{Timeout: timeout}
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-SignalNoise-Event", evt.Type)
	req.Header.Set("X-SignalNoise-Delivery", fmt.Sprintf("%d", evt.ID))
	if strings.TrimSpace(m.Secret) != "" {
		req.Header.Set("X-SignalNoise-Secret", m.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(b)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

// newEventFilter defaults to the slot.* family when the mirror config lists
// no event types.
func newEventFilter(events []string) eventFilter {
	if len(events) == 0 {
		return eventFilter{}
	}
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		key := strings.TrimSpace(evt)
		if key == "" {
			continue
		}
		if key == "*" {
			return eventFilter{all: true}
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return eventFilter{}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	if f.set == nil {
		return strings.HasPrefix(evt, slotEventPrefix)
	}
	_, ok := f.set[evt]
	return ok
}
