package storage

import (
	"embed"
	"strings"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// schemaStatements returns the DDL for a driver split into single statements,
// so it can run without multi-statement support on the connection.
func schemaStatements(driver string) ([]string, error) {
	raw, err := schemaFS.ReadFile("schema/" + driver + ".sql")
	if err != nil {
		return nil, err
	}

	var out []string
	for _, stmt := range strings.Split(string(raw), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		out = append(out, stmt)
	}
	return out, nil
}
