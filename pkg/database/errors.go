package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/ovaphlow/pitchfork/service-restaurant-identity/pkg/apperr"
)

const uniqueViolation = "23505"

// UniqueViolation reports whether err is a unique-constraint violation and,
// if so, the name of the violated constraint.
func UniqueViolation(err error) (string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
		return pqErr.Constraint, true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return pgErr.ConstraintName, true
	}
	return "", false
}

// IsTransient reports whether err means the database is unreachable or
// temporarily refusing work, as opposed to a problem with the statement.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return transientSQLState(string(pqErr.Code))
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return transientSQLState(pgErr.Code)
	}
	return false
}

// transientSQLState covers connection exceptions (08), insufficient
// resources (53), operator intervention (57) and serialization failures.
func transientSQLState(code string) bool {
	switch {
	case strings.HasPrefix(code, "08"), strings.HasPrefix(code, "53"), strings.HasPrefix(code, "57"):
		return true
	case code == "40001", code == "40P01":
		return true
	}
	return false
}

// Wrap annotates a repository error with its operation name. Transient
// failures become apperr.TransientError so callers can decide to retry.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsTransient(err) {
		return apperr.Transient(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
