package boiledrepos

import (
	"database/sql"

	"github.com/lib/pq"
	"github.com/pkg/errors"
)

const (
	pqUniqueViolation   = "23505"
	pqInvalidTextRepr   = "22P02" // e.g. malformed uuid
	pqForeignKeyViolate = "23503"
)

func pqCode(err error) string {
	if pqErr, ok := errors.Cause(err).(*pq.Error); ok {
		return string(pqErr.Code)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

// trapErr maps driver errors onto the repository sentinels; anything else is wrapped with msg.
func trapErr(err error, notFound, conflict error, msg string) error {
	if err == nil {
		return nil
	}
	if errors.Cause(err) == sql.ErrNoRows {
		return notFound
	}
	switch pqCode(err) {
	case pqUniqueViolation:
		if conflict != nil {
			return conflict
		}
	case pqInvalidTextRepr, pqForeignKeyViolate:
		return notFound
	}
	return errors.Wrap(err, msg)
}
