package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// maxBodyBytes bounds request bodies well above the largest valid text.
const maxBodyBytes = 64 << 10

const submitSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["text", "model"],
  "properties": {
    "text":  {"type": "string"},
    "model": {"type": "string"}
  }
}`

var submitSchema = jsonschema.MustCompileString("submit.json", submitSchemaJSON)

// errMalformedBody is returned for bodies that are not JSON at all.
var errMalformedBody = errors.New("invalid JSON body")

// schemaError lists each place a request body breaks the schema.
type schemaError struct {
	Problems map[string]string
}

func (e *schemaError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for loc, msg := range e.Problems {
		parts = append(parts, loc+": "+msg)
	}
	sort.Strings(parts)
	return "request body does not match schema: " + strings.Join(parts, "; ")
}

// decodeBody reads a JSON body, checks it against schema and decodes it into dst.
func decodeBody(w http.ResponseWriter, r *http.Request, schema *jsonschema.Schema, dst any) error {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: %v", errMalformedBody, err)
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%w: %v", errMalformedBody, err)
	}

	if err := schema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			problems := map[string]string{}
			collectLeaves(ve, problems)
			return &schemaError{Problems: problems}
		}
		return err
	}

	return json.Unmarshal(raw, dst)
}

func collectLeaves(ve *jsonschema.ValidationError, out map[string]string) {
	if len(ve.Causes) == 0 {
		loc := strings.TrimPrefix(ve.InstanceLocation, "/")
		if loc == "" {
			loc = "body"
		}
		out[loc] = ve.Message
		return
	}
	for _, c := range ve.Causes {
		collectLeaves(c, out)
	}
}
