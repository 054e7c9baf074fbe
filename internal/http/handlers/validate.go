package handlers

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"gateway/internal/domain"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const maxBodyBytes = 32 << 20

func loadSchemas() (map[string]*gojsonschema.Schema, error) {
	entries, err := fs.ReadDir(schemaFS, "schemas")
	if err != nil {
		return nil, fmt.Errorf("handlers: read schemas: %w", err)
	}
	schemas := make(map[string]*gojsonschema.Schema, len(entries))
	for _, entry := range entries {
		data, err := schemaFS.ReadFile("schemas/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("handlers: read schema %s: %w", entry.Name(), err)
		}
		schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(data))
		if err != nil {
			return nil, fmt.Errorf("handlers: compile schema %s: %w", entry.Name(), err)
		}
		schemas[strings.TrimSuffix(entry.Name(), ".json")] = schema
	}
	return schemas, nil
}

// decodeBody reads a JSON object, checks it against the named schema and
// unmarshals it into dst. An empty or null body counts as {}.
func (a *App) decodeBody(r *http.Request, schemaName string, dst any) error {
	raw, err := a.readBody(r, schemaName)
	if err != nil {
		return err
	}
	if dst == nil {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return domain.NewValidationError("body", "request body does not match the expected shape")
	}
	return nil
}

// readBody returns the validated request body for handlers that forward it.
func (a *App) readBody(r *http.Request, schemaName string) (json.RawMessage, error) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, domain.NewValidationError("body", "could not read request body")
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		raw = []byte("{}")
	}
	if !json.Valid(raw) {
		return nil, domain.NewValidationError("body", "request body must be valid JSON")
	}
	if schema, ok := a.schemas[schemaName]; ok {
		result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
		if err != nil {
			return nil, domain.NewValidationError("body", "request body must be a JSON object")
		}
		if !result.Valid() {
			first := result.Errors()[0]
			return nil, domain.NewValidationError(first.Field(), first.String())
		}
	}
	return raw, nil
}
