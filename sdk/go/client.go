package signalnoisesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal SignalNoise HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Task represents the API task model (partial).
type Task struct {
	ID                 string `json:"id"`
	Title              string `json:"title"`
	ScheduledDate      string `json:"scheduled_date"`
	EstimatedMinutes   int    `json:"estimated_minutes"`
	Completed          bool   `json:"completed"`
	ScheduledMinutes   int    `json:"scheduled_minutes"`
	UnscheduledMinutes int    `json:"unscheduled_minutes"`
	ActualSeconds      int64  `json:"actual_seconds"`
	LiveSeconds        int64  `json:"live_seconds"`
	Active             bool   `json:"active"`
	Slots              []Slot `json:"slots,omitempty"`
}

// Slot represents a planned calendar window on a task.
type Slot struct {
	ID                 string     `json:"id"`
	TaskID             string     `json:"task_id"`
	PlannedStart       time.Time  `json:"planned_start"`
	PlannedEnd         time.Time  `json:"planned_end"`
	ActualStart        *time.Time `json:"actual_start,omitempty"`
	ActualEnd          *time.Time `json:"actual_end,omitempty"`
	AccumulatedSeconds int64      `json:"accumulated_seconds"`
	AutoEnd            bool       `json:"auto_end"`
	Discarded          bool       `json:"discarded"`
	Status             string     `json:"status,omitempty"`
}

// DayStats is the live daily ratio snapshot.
type DayStats struct {
	Date           string    `json:"date"`
	WindowStart    time.Time `json:"window_start"`
	WindowEnd      time.Time `json:"window_end"`
	WindowExtended bool      `json:"window_extended"`
	ElapsedMinutes float64   `json:"elapsed_minutes"`
	SignalMinutes  float64   `json:"signal_minutes"`
	Ratio          float64   `json:"ratio"`
	Golden         bool      `json:"golden"`
}

// WeekStats is the Monday-anchored weekly rollup.
type WeekStats struct {
	Anchor     string  `json:"anchor"`
	Ratio      float64 `json:"ratio"`
	GoldenDays int     `json:"golden_days"`
	Achieved   bool    `json:"achieved"`
	Days       []struct {
		Date           string  `json:"date"`
		SignalMinutes  float64 `json:"signal_minutes"`
		ElapsedMinutes float64 `json:"elapsed_minutes"`
		Ratio          float64 `json:"ratio"`
		Golden         bool    `json:"golden"`
	} `json:"days"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	Payload    string `json:"payload_json"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateTask creates a signal task.
func (c *Client) CreateTask(ctx context.Context, title string, estimatedMinutes int, date string) (Task, error) {
	body := map[string]any{
		"title":             title,
		"estimated_minutes": estimatedMinutes,
	}
	if date != "" {
		body["date"] = date
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, "v0/tasks", body, &resp)
	return resp, err
}

// ListTasks returns the tasks for a date (empty means today).
func (c *Client) ListTasks(ctx context.Context, date string) ([]Task, error) {
	endpoint := "v0/tasks"
	if date != "" {
		endpoint += "?date=" + url.QueryEscape(date)
	}
	var resp []Task
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// GetTask fetches a task with its slots.
func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, "v0/tasks/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Start starts or resumes work on a task. preferredSlotID may be empty.
func (c *Client) Start(ctx context.Context, taskID, preferredSlotID string) (Slot, error) {
	body := map[string]any{}
	if preferredSlotID != "" {
		body["preferred_slot_id"] = preferredSlotID
	}
	var resp Slot
	endpoint := fmt.Sprintf("v0/tasks/%s/start", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Stop stops the running session on a slot.
func (c *Client) Stop(ctx context.Context, taskID, slotID string) (Slot, error) {
	var resp Slot
	endpoint := fmt.Sprintf("v0/tasks/%s/slots/%s/stop", url.PathEscape(taskID), url.PathEscape(slotID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{}, &resp)
	return resp, err
}

// AddSlot schedules a planned window on a task.
func (c *Client) AddSlot(ctx context.Context, taskID string, start, end time.Time, autoEnd bool) (Slot, error) {
	body := map[string]any{
		"planned_start": start,
		"planned_end":   end,
		"auto_end":      autoEnd,
	}
	var resp Slot
	endpoint := fmt.Sprintf("v0/tasks/%s/slots", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// DiscardSlot removes a slot from the calendar.
func (c *Client) DiscardSlot(ctx context.Context, taskID, slotID string) error {
	endpoint := fmt.Sprintf("v0/tasks/%s/slots/%s", url.PathEscape(taskID), url.PathEscape(slotID))
	return c.do(ctx, http.MethodDelete, endpoint, nil, nil)
}

// Today returns the live ratio snapshot.
func (c *Client) Today(ctx context.Context) (DayStats, error) {
	var resp DayStats
	err := c.do(ctx, http.MethodGet, "v0/stats/today", nil, &resp)
	return resp, err
}

// Week returns the weekly rollup containing date (empty means this week).
func (c *Client) Week(ctx context.Context, date string) (WeekStats, error) {
	endpoint := "v0/stats/week"
	if date != "" {
		endpoint += "?date=" + url.QueryEscape(date)
	}
	var resp WeekStats
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ExtendStart extends today's focus window to now.
func (c *Client) ExtendStart(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "v0/schedule/extend-start", map[string]any{}, nil)
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
