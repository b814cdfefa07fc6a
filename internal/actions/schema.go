package actions

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const stringList = `{"type": "array", "items": {"type": "string"}}`

// actionSchemas type-check the decoded fields of each action. Presence and
// non-emptiness are checked by the resolver so that every missing field is
// reported, not only the first one the validator meets.
var actionSchemas = map[Action]string{
	SendEmail: `{
		"type": "object",
		"properties": {
			"to": ` + stringList + `,
			"cc": ` + stringList + `,
			"bcc": ` + stringList + `,
			"subject": {"type": "string"},
			"body": {"type": "string"},
			"html": {"type": "boolean"}
		}
	}`,
	CreateEvent: `{
		"type": "object",
		"properties": {
			"summary": {"type": "string"},
			"start": {"type": "string"},
			"end": {"type": "string"},
			"duration": {"type": "integer", "minimum": 1, "maximum": 10080},
			"description": {"type": "string"},
			"location": {"type": "string"},
			"attendees": ` + stringList + `,
			"timeZone": {"type": "string"}
		}
	}`,
	DriveGet: `{
		"type": "object",
		"properties": {"fileId": {"type": "string"}}
	}`,
	DriveDelete: `{
		"type": "object",
		"properties": {"fileId": {"type": "string"}}
	}`,
	DriveCreate: `{
		"type": "object",
		"properties": {
			"name": {"type": "string"},
			"content": {"type": "string"},
			"mimeType": {"type": "string"},
			"parentId": {"type": "string"}
		}
	}`,
	DriveUpdate: `{
		"type": "object",
		"properties": {
			"fileId": {"type": "string"},
			"name": {"type": "string"},
			"content": {"type": "string"}
		}
	}`,
	DriveSearch: `{
		"type": "object",
		"properties": {
			"query": {"type": "string"},
			"maxResults": {"type": "integer", "minimum": 1, "maximum": 100}
		}
	}`,
}

type schemaRegistry struct {
	once    sync.Once
	initErr error
	schemas map[Action]*jsonschema.Schema
}

var registry schemaRegistry

func compiledSchemas() (map[Action]*jsonschema.Schema, error) {
	registry.once.Do(func() {
		registry.schemas = make(map[Action]*jsonschema.Schema, len(actionSchemas))
		for action, src := range actionSchemas {
			compiled, err := jsonschema.CompileString(string(action)+".schema.json", src)
			if err != nil {
				registry.initErr = fmt.Errorf("compile %s schema: %w", action, err)
				return
			}
			registry.schemas[action] = compiled
		}
	})
	return registry.schemas, registry.initErr
}

// schemaViolations maps each top-level field named by a schema failure to
// the validator's message for it.
func schemaViolations(err error) map[string]string {
	out := map[string]string{}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return out
	}
	collectViolations(verr, out)
	return out
}

func collectViolations(e *jsonschema.ValidationError, out map[string]string) {
	if len(e.Causes) == 0 {
		if field := topLevelField(e.InstanceLocation); field != "" {
			if _, seen := out[field]; !seen {
				out[field] = e.Message
			}
		}
		return
	}
	for _, cause := range e.Causes {
		collectViolations(cause, out)
	}
}

// topLevelField returns the first segment of a JSON pointer such as "/to/0".
func topLevelField(pointer string) string {
	pointer = strings.TrimPrefix(pointer, "/")
	if pointer == "" {
		return ""
	}
	field, _, _ := strings.Cut(pointer, "/")
	return strings.NewReplacer("~1", "/", "~0", "~").Replace(field)
}
