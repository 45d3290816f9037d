package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/mangaflow/mangaflow/internal/job"
)

const pageMetadataSchema = `{
	"type": "object",
	"required": ["page_id"],
	"properties": {
		"page_id": {"type": "string", "minLength": 1}
	}
}`

const projectMetadataSchema = `{
	"type": "object",
	"properties": {
		"page_id": {"type": "string"}
	}
}`

var metadataSchemas = mustCompileSchemas(map[job.Type]string{
	job.TypeOCR:       pageMetadataSchema,
	job.TypeTranslate: projectMetadataSchema,
	job.TypeRender:    pageMetadataSchema,
})

func mustCompileSchemas(sources map[job.Type]string) map[job.Type]*jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	for typ, src := range sources {
		if err := compiler.AddResource(string(typ)+".json", strings.NewReader(src)); err != nil {
			panic(fmt.Sprintf("add %s metadata schema: %v", typ, err))
		}
	}
	out := make(map[job.Type]*jsonschema.Schema, len(sources))
	for typ := range sources {
		s, err := compiler.Compile(string(typ) + ".json")
		if err != nil {
			panic(fmt.Sprintf("compile %s metadata schema: %v", typ, err))
		}
		out[typ] = s
	}
	return out
}

// ValidateMetadata checks j's payload against its type's schema and decodes
// it. Failures are permanent: retrying cannot fix a malformed payload.
func ValidateMetadata(j *job.Job) (job.Metadata, error) {
	schema, ok := metadataSchemas[j.Type]
	if !ok {
		return job.Metadata{}, job.Permanent(fmt.Errorf("%w: %q", job.ErrUnknownType, j.Type))
	}

	raw := []byte(j.Metadata)
	if len(raw) == 0 || string(raw) == "null" {
		raw = []byte("{}")
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return job.Metadata{}, job.Permanent(fmt.Errorf("metadata is not valid json: %w", err))
	}
	if err := schema.Validate(v); err != nil {
		return job.Metadata{}, job.Permanent(fmt.Errorf("invalid %s metadata: %w", j.Type, err))
	}

	var m job.Metadata
	if err := json.Unmarshal(raw, &m); err != nil {
		return job.Metadata{}, job.Permanent(fmt.Errorf("decode metadata: %w", err))
	}
	return m, nil
}
