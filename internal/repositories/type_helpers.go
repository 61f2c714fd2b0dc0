package repositories

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/bionicotaku/lingo-services-transcription/internal/models/po"
)

func timestamptzFromTime(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t.UTC(), Valid: true}
}

func timestamptzFromPtr(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}
	return timestamptzFromTime(*t)
}

func timePtrFromTimestamptz(ts pgtype.Timestamptz) *time.Time {
	if !ts.Valid {
		return nil
	}
	t := ts.Time.UTC()
	return &t
}

func textFromPtr(value *string) pgtype.Text {
	if value == nil {
		return pgtype.Text{}
	}
	return pgtype.Text{String: *value, Valid: true}
}

func textFromString(value string) pgtype.Text {
	if value == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: value, Valid: true}
}

func stringPtrFromText(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	s := t.String
	return &s
}

// encodeSegmentFailures 以字符串形式传参，兼容简单协议下的 jsonb 绑定。
func encodeSegmentFailures(failures []po.SegmentFailure) (string, error) {
	if failures == nil {
		failures = []po.SegmentFailure{}
	}
	raw, err := json.Marshal(failures)
	if err != nil {
		return "", fmt.Errorf("encode segment failures: %w", err)
	}
	return string(raw), nil
}

func decodeSegmentFailures(raw []byte) ([]po.SegmentFailure, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var failures []po.SegmentFailure
	if err := json.Unmarshal(raw, &failures); err != nil {
		return nil, fmt.Errorf("decode segment failures: %w", err)
	}
	return failures, nil
}
