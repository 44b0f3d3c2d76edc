package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"

	"github.com/lib/pq"

	"go.inboxmq.dev/internal/inbox/storage"
)

// classify reports whether err is a connection-level or backend-overload
// failure worth retrying, per lib/pq's error codes
// (https://www.postgresql.org/docs/current/errcodes-appendix.html):
// class 08 (connection exception), 53 (insufficient resources), 57
// (operator intervention, e.g. admin shutdown), and 58 (system error).
// Everything else — constraint violations, syntax errors, bad input — is
// permanent.
func classify(err error) storage.Kind {
	if err == nil {
		return storage.KindPermanent
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return storage.KindPermanent
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return storage.KindTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return storage.KindTransient
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "53", "57", "58":
			return storage.KindTransient
		}
	}
	return storage.KindPermanent
}
