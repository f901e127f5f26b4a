package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types emitted by the engine. The calendar-sync dispatcher filters on
// the slot.* family.
const (
	TaskCreated      = "task.created"
	TaskCompleted    = "task.completed"
	TaskDeleted      = "task.deleted"
	SlotAdded        = "slot.added"
	SlotUpdated      = "slot.updated"
	SlotRemoved      = "slot.removed"
	SlotDiscarded    = "slot.discarded"
	SlotStarted      = "slot.started"
	SlotStopped      = "slot.stopped"
	SlotAutoEnded    = "slot.autoended"
	ScheduleExtended = "schedule.extended"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,payload_json) VALUES (?,?,?,?,?)`,
		ts, evtType, entityKind, nullable(entityID), string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
