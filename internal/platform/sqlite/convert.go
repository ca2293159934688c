package sqlite

import (
	"database/sql"
	"encoding/json"
	"time"
)

// Timestamps are stored as unix-millisecond integers. SQLite has no native
// time type; integers compare correctly in SQL and survive driver changes.

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func millisPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

// rawJSONValue converts a JSON payload to a TEXT bind value, mapping empty
// payloads to NULL.
func rawJSONValue(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
