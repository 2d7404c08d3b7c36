package database

import (
	"embed"
	"fmt"
)

type dialect string

const (
	dialectPostgres dialect = "postgres"
	dialectSQLite   dialect = "sqlite"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// loadSchema returns the schema script for the dialect. The schema ships with
// the binary so migrations do not depend on the working directory.
func loadSchema(d dialect) (string, error) {
	content, err := schemaFS.ReadFile("schema/" + string(d) + ".sql")
	if err != nil {
		return "", fmt.Errorf("read %s schema: %w", d, err)
	}
	return string(content), nil
}
