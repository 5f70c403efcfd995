package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

const uniqueViolationCode = "23505"

// IsUniqueViolation reports whether err is a unique constraint violation,
// optionally matching a specific constraint name.
func IsUniqueViolation(err error, constraint string) bool {
	if err == nil {
		return false
	}

	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		if pgxErr.Code != uniqueViolationCode {
			return false
		}
		return constraint == "" || pgxErr.ConstraintName == constraint
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if string(pqErr.Code) != uniqueViolationCode {
			return false
		}
		return constraint == "" || pqErr.Constraint == constraint
	}

	// sqlite (tests) reports UNIQUE violations in the message only.
	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") {
		return constraint == "" || strings.Contains(msg, constraintColumnHint(constraint))
	}
	return false
}

// constraintColumnHint maps well-known constraint names onto the column
// fragment sqlite includes in its error message.
func constraintColumnHint(constraint string) string {
	switch constraint {
	case "ux_ledger_transactions_idempotency_key":
		return "idempotency_key"
	case "ux_accounts_vendor_id":
		return "vendor_id"
	default:
		return constraint
	}
}
