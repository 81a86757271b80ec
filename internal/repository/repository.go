// Package repository holds the pgx-backed data access of the conduction engine.
package repository

import (
	"errors"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/stemsi/exstem-engine/internal/apperror"
)

// psql builds dollar-placeholder statements for pgx.
var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// notFound maps pgx.ErrNoRows to apperror.ErrNotFound and passes other errors through.
func notFound(err error, entity string, id any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperror.NotFound(entity, id)
	}
	return err
}
