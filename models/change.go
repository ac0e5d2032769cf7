package models

import (
	"encoding/json"
	"time"
)

const (
	ChangeOpInsert = "INSERT"
	ChangeOpUpdate = "UPDATE"
	ChangeOpDelete = "DELETE"
)

// ChangeEvent is one entry of the change-data-capture feed.
// Before and After hold the JSON encoded row.
type ChangeEvent struct {
	Table      string          `json:"table"`
	Op         string          `json:"op"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Row decodes the newest image of the row (After, falling back to Before for deletes).
func (e ChangeEvent) Row(dest any) error {
	raw := e.After
	if len(raw) == 0 {
		raw = e.Before
	}
	return json.Unmarshal(raw, dest)
}

func NewChangeEvent(table, op string, before, after any) ChangeEvent {
	ev := ChangeEvent{Table: table, Op: op, OccurredAt: time.Now().UTC()}
	if before != nil {
		ev.Before, _ = json.Marshal(before)
	}
	if after != nil {
		ev.After, _ = json.Marshal(after)
	}
	return ev
}
