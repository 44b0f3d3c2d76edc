package mysql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"

	mysqldriver "github.com/go-sql-driver/mysql"

	"go.inboxmq.dev/internal/inbox/storage"
)

// transientErrorNumbers are the go-sql-driver/mysql error numbers
// (https://dev.mysql.com/doc/mysql-errors/8.0/en/server-error-reference.html)
// that indicate a condition expected to clear on its own: lock wait
// timeouts and deadlocks, connection exhaustion, and connections dropped by
// the server.
var transientErrorNumbers = map[uint16]bool{
	1205: true, // ER_LOCK_WAIT_TIMEOUT
	1213: true, // ER_LOCK_DEADLOCK
	1040: true, // ER_CON_COUNT_ERROR
	1053: true, // ER_SERVER_SHUTDOWN
	2006: true, // CR_SERVER_GONE_ERROR
	2013: true, // CR_SERVER_LOST
}

func classify(err error) storage.Kind {
	if err == nil {
		return storage.KindPermanent
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return storage.KindPermanent
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.Is(err, mysqldriver.ErrInvalidConn) {
		return storage.KindTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return storage.KindTransient
	}

	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) && transientErrorNumbers[myErr.Number] {
		return storage.KindTransient
	}
	return storage.KindPermanent
}
