// ABOUTME: Timestamp codec between time.Time and epoch-millisecond integers
// ABOUTME: Absent optional timestamps map to SQL NULL, never to zero

package store

import (
	"database/sql"
	"time"
)

// EncodeTime converts t to signed milliseconds since the Unix epoch.
func EncodeTime(t time.Time) int64 {
	return t.UnixMilli()
}

// DecodeTime converts epoch milliseconds back to a UTC time.
func DecodeTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// EncodeOptionalTime maps nil to NULL.
func EncodeOptionalTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: EncodeTime(*t), Valid: true}
}

// DecodeOptionalTime maps NULL to nil.
func DecodeOptionalTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := DecodeTime(v.Int64)
	return &t
}

// truncate drops sub-millisecond precision so values survive a round trip
// unchanged.
func truncate(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

func truncateOptional(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := truncate(*t)
	return &v
}
