package actions

import (
	"sort"
	"time"
)

// Action names an operation a capability provider can perform.
type Action string

const (
	SendEmail   Action = "send_email"
	CreateEvent Action = "create_event"
	DriveGet    Action = "drive_get"
	DriveCreate Action = "drive_create"
	DriveUpdate Action = "drive_update"
	DriveDelete Action = "drive_delete"
	DriveSearch Action = "drive_search"
)

// Actions returns every supported action in sorted order.
func Actions() []Action {
	out := make([]Action, 0, len(actionSchemas))
	for a := range actionSchemas {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Supported reports whether a is a known action.
func Supported(a Action) bool {
	_, ok := actionSchemas[a]
	return ok
}

// Request is a validated operation. Fields holds one of EmailFields,
// EventFields, FileFields or SearchFields depending on Action.
type Request struct {
	Action Action
	Fields Fields
}

// Fields is implemented by the typed field sets of each action.
type Fields interface {
	isFields()
}

// EmailFields are the fields of send_email.
type EmailFields struct {
	To      []string
	Cc      []string
	Bcc     []string
	Subject string
	Body    string
	HTML    bool
}

// EventFields are the fields of create_event. End is always set.
type EventFields struct {
	Summary     string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	TimeZone    string
	Attendees   []string
}

// FileFields are the fields of drive_get, drive_create, drive_update and
// drive_delete. Which ones are set depends on the action.
type FileFields struct {
	FileID   string
	Name     string
	Content  string
	MimeType string
	ParentID string
}

// SearchFields are the fields of drive_search.
type SearchFields struct {
	Query      string
	MaxResults int
}

func (EmailFields) isFields()  {}
func (EventFields) isFields()  {}
func (FileFields) isFields()   {}
func (SearchFields) isFields() {}

// Describe returns the request's identifying fields for logs and message
// metadata. Bodies and file contents are left out.
func (r *Request) Describe() map[string]any {
	out := map[string]any{"action": string(r.Action)}
	switch f := r.Fields.(type) {
	case EmailFields:
		out["to"] = f.To
		out["subject"] = f.Subject
	case EventFields:
		out["summary"] = f.Summary
		out["start"] = f.Start.Format(time.RFC3339)
		out["end"] = f.End.Format(time.RFC3339)
	case FileFields:
		if f.FileID != "" {
			out["fileId"] = f.FileID
		}
		if f.Name != "" {
			out["name"] = f.Name
		}
	case SearchFields:
		out["query"] = f.Query
		out["maxResults"] = f.MaxResults
	}
	return out
}
