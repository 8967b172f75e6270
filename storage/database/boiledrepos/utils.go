package boiledrepos

import (
	"time"

	"github.com/volatiletech/null/v8"
)

func utcPtr(t null.Time) *time.Time {
	if !t.Valid {
		return nil
	}
	utc := t.Time.UTC()
	return &utc
}
