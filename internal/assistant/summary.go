package assistant

import (
	"fmt"
	"strings"

	"github.com/teemow/inboxpilot/internal/actions"
	"github.com/teemow/inboxpilot/internal/dispatch"
)

var labels = map[actions.Action]string{
	actions.SendEmail:   "send an email",
	actions.CreateEvent: "create a calendar event",
	actions.DriveGet:    "fetch a Drive file",
	actions.DriveCreate: "create a Drive file",
	actions.DriveUpdate: "update a Drive file",
	actions.DriveDelete: "delete a Drive file",
	actions.DriveSearch: "search Drive",
}

func label(a actions.Action) string {
	if l, ok := labels[a]; ok {
		return l
	}
	return string(a)
}

func supportedList() string {
	all := actions.Actions()
	parts := make([]string, len(all))
	for i, a := range all {
		parts[i] = label(a)
	}
	return strings.Join(parts, ", ")
}

// summarize renders the user-visible text for a dispatch outcome.
func summarize(req *actions.Request, result dispatch.Result) string {
	if !result.Success {
		return failureText(req.Action, result)
	}

	var text string
	switch f := req.Fields.(type) {
	case actions.EmailFields:
		text = fmt.Sprintf("Email %q sent to %s.", f.Subject, strings.Join(f.To, ", "))
	case actions.EventFields:
		text = fmt.Sprintf("Event %q created for %s until %s.",
			f.Summary, f.Start.Format("Mon Jan 2 15:04"), f.End.Format("15:04 MST"))
		if link, _ := result.Data["htmlLink"].(string); link != "" {
			text += " " + link
		}
	case actions.FileFields:
		name, _ := result.Data["name"].(string)
		if name == "" {
			name = f.Name
		}
		switch req.Action {
		case actions.DriveGet:
			text = fmt.Sprintf("Found file %q.", name)
		case actions.DriveCreate:
			text = fmt.Sprintf("Created file %q.", name)
		case actions.DriveUpdate:
			text = fmt.Sprintf("Updated file %q.", name)
		case actions.DriveDelete:
			text = fmt.Sprintf("Deleted file %s.", f.FileID)
		}
	case actions.SearchFields:
		text = fmt.Sprintf("Found %d file(s) matching %q.", countOf(result.Data["count"]), f.Query)
	}
	if text == "" {
		text = fmt.Sprintf("Done: %s.", label(req.Action))
	}
	if result.Degraded {
		text += " (" + strings.Join(result.Warnings, "; ") + ")"
	}
	return text
}

func failureText(a actions.Action, result dispatch.Result) string {
	switch result.Kind {
	case dispatch.KindAuthorization:
		return fmt.Sprintf("I could not %s because your Google session expired. Please sign in again.", label(a))
	case dispatch.KindRejected:
		return fmt.Sprintf("Google rejected the request to %s: %s", label(a), result.Error)
	case dispatch.KindUnsupported:
		return fmt.Sprintf("I can't %s yet.", label(a))
	default:
		return fmt.Sprintf("I could not %s because Google is not responding. Please try again later.", label(a))
	}
}

func countOf(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

