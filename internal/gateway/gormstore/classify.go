// File: internal/gateway/gormstore/classify.go
package gormstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"matrimony_sync_backend/internal/gateway"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// Classify maps a database error onto a gateway error kind.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var ge *gateway.Error
	if errors.As(err, &ge) {
		return err
	}
	return gateway.E(op, kindOf(err), err)
}

func kindOf(err error) gateway.Kind {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return gateway.KindNotFound
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone):
		return gateway.KindNetwork
	case errors.Is(err, gorm.ErrInvalidData),
		errors.Is(err, gorm.ErrInvalidField),
		errors.Is(err, gorm.ErrInvalidValue),
		errors.Is(err, gorm.ErrMissingWhereClause),
		errors.Is(err, gorm.ErrPrimaryKeyRequired),
		errors.Is(err, gorm.ErrDuplicatedKey),
		errors.Is(err, gorm.ErrForeignKeyViolated):
		return gateway.KindValidation
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return gateway.KindNetwork
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return KindForSQLState(pgErr.Code)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return KindForSQLState(string(pqErr.Code))
	}
	return gateway.KindServer
}

// KindForSQLState classifies a Postgres SQLSTATE code.
func KindForSQLState(code string) gateway.Kind {
	switch {
	case strings.HasPrefix(code, "08"), code == "57P01", code == "57P03":
		return gateway.KindNetwork
	case strings.HasPrefix(code, "28"), code == "42501":
		return gateway.KindAuth
	case strings.HasPrefix(code, "22"), strings.HasPrefix(code, "23"), code == "42703":
		return gateway.KindValidation
	}
	return gateway.KindServer
}
