package actions

import (
	"fmt"
	"strings"
)

// ValidationError reports the fields of a request that are missing or
// malformed. Fields is sorted; Reasons maps each field to a short message.
type ValidationError struct {
	Action  Action
	Fields  []string
	Reasons map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s request: missing or invalid fields: %s", e.Action, strings.Join(e.Fields, ", "))
}

// UnsupportedActionError reports an action name no capability handles.
type UnsupportedActionError struct {
	Action string
}

func (e *UnsupportedActionError) Error() string {
	return fmt.Sprintf("unsupported action %q", e.Action)
}
