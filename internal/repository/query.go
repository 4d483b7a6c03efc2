package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/cradoe/pawnbroker/internal/apperror"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// mapError turns driver errors into typed errors; anything else passes through.
func mapError(err error, entity string) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return &apperror.Error{
			Kind:    apperror.KindDuplicate,
			Message: fmt.Sprintf("%s already exists", entity),
			Detail:  pqErr.Constraint,
			Err:     err,
		}
	}
	return err
}

// notFound reports whether err means "no row"; callers return (nil, false, nil) then.
func notFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// conditions accumulates a WHERE clause with positional placeholders. Each "?"
// in a clause is bound to the argument passed alongside it.
type conditions struct {
	clauses []string
	args    []any
}

func (c *conditions) add(clause string, arg any) {
	c.args = append(c.args, arg)
	c.clauses = append(c.clauses, strings.ReplaceAll(clause, "?", fmt.Sprintf("$%d", len(c.args))))
}

func (c *conditions) addIf(ok bool, clause string, arg any) {
	if ok {
		c.add(clause, arg)
	}
}

func (c *conditions) where() string {
	if len(c.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(c.clauses, " AND ")
}

// page appends LIMIT/OFFSET placeholders and returns the suffix with its args.
func (c *conditions) page(limit, offset int) (string, []any) {
	args := append([]any{}, c.args...)
	if limit <= 0 {
		return "", args
	}
	args = append(args, limit, offset)
	return fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args)), args
}

func like(s string) string {
	return "%" + strings.ToLower(s) + "%"
}
