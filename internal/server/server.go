package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"signalnoise/internal/domain"
	"signalnoise/internal/engine"
	"signalnoise/internal/repo"
	"signalnoise/internal/schedule"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	Resolver schedule.Resolver
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"slot_not_found"`
	Message string         `json:"message" example:"slot not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the SignalNoise API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("SignalNoise API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerTasks(group, cfg.Engine)
	registerSlots(group, cfg.Engine)
	registerStats(group, cfg.Engine, cfg.Resolver)
	registerSchedule(group, cfg.Engine, cfg.Resolver)
	registerCalendar(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, engine.ErrSlotNotFound):
		return newAPIError(http.StatusNotFound, "slot_not_found", err.Error(), nil)
	case errors.Is(err, engine.ErrAlreadyActive):
		return newAPIError(http.StatusConflict, "already_active", err.Error(), nil)
	case errors.Is(err, engine.ErrAlreadyStopped):
		return newAPIError(http.StatusConflict, "already_stopped", err.Error(), nil)
	case errors.Is(err, schedule.ErrAlreadyExtended):
		return newAPIError(http.StatusConflict, "already_extended", err.Error(), nil)
	case errors.Is(err, engine.ErrTaskLimit):
		return newAPIError(http.StatusUnprocessableEntity, "task_limit", err.Error(), nil)
	case errors.Is(err, engine.ErrInvalidWindow):
		return newAPIError(http.StatusBadRequest, "invalid_window", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create signal task",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		if input.Body.Title == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "title is required", nil)
		}
		opts := engine.TaskCreateOptions{
			Title:            input.Body.Title,
			Date:             input.Body.Date,
			EstimatedMinutes: input.Body.EstimatedMinutes,
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		if input.Body.ExternalEventID != nil {
			opts.ExternalEventID = *input.Body.ExternalEventID
		}
		t, err := e.CreateTask(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t, e.Now())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks for a date",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Date string `query:"date" doc:"Calendar date, defaults to today"`
	}) (*struct {
		Body []TaskResponse `json:"body"`
	}, error) {
		now := e.Now()
		date := input.Date
		if date == "" {
			date = now.Format(time.DateOnly)
		} else if _, err := time.Parse(time.DateOnly, date); err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", fmt.Sprintf("invalid date %q", date), nil)
		}
		items, err := e.Repo.ListTasks(ctx, date)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []TaskResponse `json:"body"`
		}{Body: mapTasks(items, now)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		t, err := e.Repo.GetTask(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t, e.Now())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/complete",
		Summary:     "Mark task completed",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		t, err := e.CompleteTask(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t, e.Now())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-task",
		Method:      http.MethodDelete,
		Path:        "/tasks/{task_id}",
		Summary:     "Delete task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct{}, error) {
		if err := e.DeleteTask(ctx, input.TaskID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerSlots(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-slot",
		Method:        http.MethodPost,
		Path:          "/tasks/{task_id}/slots",
		Summary:       "Add planned slot",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string         `path:"task_id"`
		Body   AddSlotRequest `json:"body"`
	}) (*struct {
		Body SlotResponse `json:"body"`
	}, error) {
		s, err := e.AddSlot(ctx, input.TaskID, input.Body.PlannedStart, input.Body.PlannedEnd, input.Body.AutoEnd)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SlotResponse `json:"body"`
		}{Body: slotResponse(s, e.Now())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-slot",
		Method:      http.MethodPatch,
		Path:        "/tasks/{task_id}/slots/{slot_id}",
		Summary:     "Update planned slot",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string            `path:"task_id"`
		SlotID string            `path:"slot_id"`
		Body   UpdateSlotRequest `json:"body"`
	}) (*struct {
		Body SlotResponse `json:"body"`
	}, error) {
		s, err := e.UpdateSlot(ctx, input.TaskID, input.SlotID, engine.SlotUpdateOptions{
			PlannedStart: input.Body.PlannedStart,
			PlannedEnd:   input.Body.PlannedEnd,
			AutoEnd:      input.Body.AutoEnd,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SlotResponse `json:"body"`
		}{Body: slotResponse(s, e.Now())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "discard-slot",
		Method:      http.MethodDelete,
		Path:        "/tasks/{task_id}/slots/{slot_id}",
		Summary:     "Discard slot",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
		SlotID string `path:"slot_id"`
	}) (*struct{}, error) {
		if err := e.DiscardSlot(ctx, input.TaskID, input.SlotID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "start-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/start",
		Summary:     "Start or resume work on a task",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
		Body   struct {
			PreferredSlotID string `json:"preferred_slot_id,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body SlotResponse `json:"body"`
	}, error) {
		s, err := e.SmartStart(ctx, input.TaskID, input.Body.PreferredSlotID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SlotResponse `json:"body"`
		}{Body: slotResponse(s, e.Now())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "stop-slot",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/slots/{slot_id}/stop",
		Summary:     "Stop the running session",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
		SlotID string `path:"slot_id"`
	}) (*struct {
		Body SlotResponse `json:"body"`
	}, error) {
		s, err := e.StopSlot(ctx, input.TaskID, input.SlotID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SlotResponse `json:"body"`
		}{Body: slotResponse(s, e.Now())}, nil
	})
}

func registerStats(api huma.API, e engine.Engine, resolver schedule.Resolver) {
	huma.Register(api, huma.Operation{
		OperationID: "today-stats",
		Method:      http.MethodGet,
		Path:        "/stats/today",
		Summary:     "Live signal ratio for today",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body engine.DayStats `json:"body"`
	}, error) {
		st, err := e.TodayStats(ctx, resolver)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.DayStats `json:"body"`
		}{Body: st}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "projected-stats",
		Method:      http.MethodGet,
		Path:        "/stats/projected",
		Summary:     "Projected ratio for a date",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Date string `query:"date" doc:"Calendar date, defaults to today"`
	}) (*struct {
		Body engine.ProjectedStats `json:"body"`
	}, error) {
		date, err := parseDateOrNow(input.Date, e.Now())
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		st, err := e.Projected(ctx, resolver, date)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ProjectedStats `json:"body"`
		}{Body: st}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "week-stats",
		Method:      http.MethodGet,
		Path:        "/stats/week",
		Summary:     "Weekly ratio aggregate",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Date string `query:"date" doc:"Any date in the target week, defaults to today"`
	}) (*struct {
		Body WeekResponse `json:"body"`
	}, error) {
		date, err := parseDateOrNow(input.Date, e.Now())
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		w, err := e.WeekStats(ctx, resolver, date)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WeekResponse `json:"body"`
		}{Body: WeekResponse{WeekStats: w}}, nil
	})
}

func registerSchedule(api huma.API, e engine.Engine, resolver schedule.Resolver) {
	huma.Register(api, huma.Operation{
		OperationID: "get-schedule",
		Method:      http.MethodGet,
		Path:        "/schedule",
		Summary:     "List weekday focus windows",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []DayScheduleResponse `json:"body"`
	}, error) {
		days := make([]DayScheduleResponse, 0, 7)
		for wd := time.Sunday; wd <= time.Saturday; wd++ {
			d, err := e.Repo.GetDaySchedule(ctx, wd)
			if errors.Is(err, repo.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, handleError(err)
			}
			days = append(days, dayScheduleResponse(d))
		}
		return &struct {
			Body []DayScheduleResponse `json:"body"`
		}{Body: days}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-schedule-day",
		Method:      http.MethodPut,
		Path:        "/schedule/{weekday}",
		Summary:     "Set one weekday focus window",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Weekday int           `path:"weekday" minimum:"0" maximum:"6" doc:"0=Sunday .. 6=Saturday"`
		Body    SetDayRequest `json:"body"`
	}) (*struct {
		Body DayScheduleResponse `json:"body"`
	}, error) {
		d := domain.DaySchedule{
			Weekday:     time.Weekday(input.Weekday),
			StartHour:   input.Body.StartHour,
			StartMinute: input.Body.StartMinute,
			EndHour:     input.Body.EndHour,
			EndMinute:   input.Body.EndMinute,
			Active:      input.Body.Active,
		}
		if err := resolver.SetDay(ctx, d); err != nil {
			return nil, handleError(err)
		}
		stored, err := e.Repo.GetDaySchedule(ctx, d.Weekday)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DayScheduleResponse `json:"body"`
		}{Body: dayScheduleResponse(stored)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-window",
		Method:      http.MethodGet,
		Path:        "/schedule/window",
		Summary:     "Resolved focus window for a date",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Date string `query:"date" doc:"Calendar date, defaults to today"`
	}) (*struct {
		Body WindowResponse `json:"body"`
	}, error) {
		date, err := parseDateOrNow(input.Date, e.Now())
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		w, err := resolver.WindowFor(ctx, date)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WindowResponse `json:"body"`
		}{Body: windowResponse(schedule.DayKey(date), w)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "extend-start",
		Method:      http.MethodPost,
		Path:        "/schedule/extend-start",
		Summary:     "Extend today's window to an early start",
		Errors:      []int{http.StatusConflict},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WindowResponse `json:"body"`
	}, error) {
		now := e.Now()
		w, err := resolver.ExtendStart(ctx, now)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WindowResponse `json:"body"`
		}{Body: windowResponse(schedule.DayKey(now), w)}, nil
	})
}

func registerCalendar(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "calendar-day",
		Method:      http.MethodGet,
		Path:        "/calendar",
		Summary:     "Calendar items for a date",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Date string `query:"date" doc:"Calendar date, defaults to today"`
	}) (*struct {
		Body []domain.CalendarItem `json:"body"`
	}, error) {
		date, err := parseDateOrNow(input.Date, e.Now())
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
		dayEnd := dayStart.AddDate(0, 0, 1)
		slots, err := e.Repo.ListDaySlots(ctx, dayStart, dayEnd)
		if err != nil {
			return nil, handleError(err)
		}
		externals, err := e.Repo.ListExternalEventsBetween(ctx, dayStart, dayEnd)
		if err != nil {
			return nil, handleError(err)
		}
		items := make([]domain.CalendarItem, 0, len(slots)+len(externals))
		for i := range slots {
			items = append(items, domain.CalendarItem{Kind: domain.CalendarItemSlot, Slot: &slots[i]})
		}
		for i := range externals {
			items = append(items, domain.CalendarItem{Kind: domain.CalendarItemExternal, External: &externals[i]})
		}
		sort.Slice(items, func(i, j int) bool { return items[i].Start().Before(items[j].Start()) })
		return &struct {
			Body []domain.CalendarItem `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "import-external-event",
		Method:        http.MethodPost,
		Path:          "/calendar/external",
		Summary:       "Import an external calendar event",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body ExternalEventRequest `json:"body"`
	}) (*struct {
		Body domain.ExternalEvent `json:"body"`
	}, error) {
		if input.Body.Title == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "title is required", nil)
		}
		if !input.Body.End.After(input.Body.Start) {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "end must be after start", nil)
		}
		evt := domain.ExternalEvent{
			ID:         input.Body.ID,
			CalendarID: input.Body.CalendarID,
			Title:      input.Body.Title,
			Start:      input.Body.Start,
			End:        input.Body.End,
			CreatedAt:  e.Now(),
		}
		if evt.ID == "" {
			evt.ID = uuid.New().String()
		}
		if err := e.Repo.InsertExternalEvent(ctx, nil, evt); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ExternalEvent `json:"body"`
		}{Body: evt}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-external-event",
		Method:      http.MethodDelete,
		Path:        "/calendar/external/{event_id}",
		Summary:     "Remove an imported external event",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		EventID string `path:"event_id"`
	}) (*struct{}, error) {
		if err := e.Repo.DeleteExternalEvent(ctx, nil, input.EventID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Event log tail",
	}, func(ctx context.Context, input *struct {
		Limit      int    `query:"limit" default:"50" minimum:"1" maximum:"500"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 {
			limit = 50
		}
		items, err := e.Repo.LatestEvents(ctx, limit, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: items}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/apikeys",
		Summary:       "Create API key",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body struct {
			Name string `json:"name,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body CreateAPIKeyResponse `json:"body"`
	}, error) {
		secret := uuid.New().String()
		key := domain.APIKey{
			ID:      uuid.New().String(),
			Name:    input.Body.Name,
			KeyHash: repo.HashAPIKey(secret),
		}
		if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CreateAPIKeyResponse `json:"body"`
		}{Body: CreateAPIKeyResponse{ID: key.ID, Name: key.Name, Key: secret}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/apikeys",
		Summary:     "List API keys",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.APIKey `json:"body"`
	}, error) {
		keys, err := e.Repo.ListAPIKeys(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.APIKey `json:"body"`
		}{Body: keys}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-api-key",
		Method:      http.MethodDelete,
		Path:        "/apikeys/{key_id}",
		Summary:     "Delete API key",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		KeyID string `path:"key_id"`
	}) (*struct{}, error) {
		if err := e.Repo.DeleteAPIKey(ctx, input.KeyID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func parseDateOrNow(date string, now time.Time) (time.Time, error) {
	if date == "" {
		return now, nil
	}
	d, err := time.ParseInLocation(time.DateOnly, date, now.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", date)
	}
	return d, nil
}
