// Package pgsql holds the small PostgreSQL helpers shared by the pgx-backed stores.
package pgsql

import (
	"errors"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
)

// DefaultSchema is used by every store unless overridden.
const DefaultSchema = "public"

// ErrInvalidSchema is returned when a schema option is empty or not a plain identifier.
var ErrInvalidSchema = errors.New("pgsql: invalid schema identifier")

var identRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidIdent reports whether s is a plain (unquoted-safe) identifier.
func ValidIdent(s string) bool {
	return identRE.MatchString(s)
}

// NormalizeSchema trims and validates a schema name.
func NormalizeSchema(schema string) (string, error) {
	schema = strings.TrimSpace(schema)
	if schema == "" || !ValidIdent(schema) {
		return "", ErrInvalidSchema
	}
	return schema, nil
}

// Ident returns a safely quoted schema-qualified table name.
func Ident(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}
