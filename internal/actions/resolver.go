package actions

import (
	"encoding/json"
	"fmt"
	"net/mail"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/teemow/inboxpilot/internal/datetime"
)

const defaultMaxResults = 10

// listFields accept either a JSON list or a comma/semicolon separated string.
var listFields = []string{"to", "cc", "bcc", "attendees"}

// integerFields accept numeric strings.
var integerFields = []string{"duration", "maxResults"}

// Resolver validates raw fields and builds typed requests.
type Resolver struct {
	dates *datetime.Interpreter
}

// NewResolver creates a Resolver that resolves event dates with dates.
func NewResolver(dates *datetime.Interpreter) *Resolver {
	if dates == nil {
		dates = datetime.New()
	}
	return &Resolver{dates: dates}
}

// Resolve validates raw against the action's schema and semantic rules.
// It returns *UnsupportedActionError for unknown actions and
// *ValidationError listing every missing or malformed field.
func (r *Resolver) Resolve(action Action, raw map[string]any) (*Request, error) {
	schemas, err := compiledSchemas()
	if err != nil {
		return nil, err
	}
	schema, ok := schemas[action]
	if !ok {
		return nil, &UnsupportedActionError{Action: string(action)}
	}

	fields, err := decodeFields(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s fields: %w", action, err)
	}

	c := &checker{fields: fields, failed: map[string]string{}}
	if err := schema.Validate(fields); err != nil {
		for field, reason := range schemaViolations(err) {
			c.fail(field, reason)
		}
	}

	var built Fields
	switch action {
	case SendEmail:
		built = c.email()
	case CreateEvent:
		built = r.event(c)
	case DriveGet, DriveDelete:
		built = FileFields{FileID: c.text("fileId", true)}
	case DriveCreate:
		built = FileFields{
			Name:     c.text("name", true),
			Content:  c.content("content", true),
			MimeType: c.text("mimeType", false),
			ParentID: c.text("parentId", false),
		}
	case DriveUpdate:
		built = FileFields{
			FileID:  c.text("fileId", true),
			Name:    c.text("name", true),
			Content: c.content("content", false),
		}
	case DriveSearch:
		built = SearchFields{
			Query:      c.text("query", true),
			MaxResults: c.integer("maxResults", defaultMaxResults),
		}
	}

	if err := c.err(action); err != nil {
		return nil, err
	}
	return &Request{Action: action, Fields: built}, nil
}

func (r *Resolver) event(c *checker) Fields {
	f := EventFields{
		Summary:     c.text("summary", true),
		Description: c.content("description", false),
		Location:    c.text("location", false),
		TimeZone:    c.text("timeZone", false),
	}

	dates := r.dates
	if f.TimeZone != "" {
		loc, err := datetime.LoadLocation(f.TimeZone)
		if err != nil {
			c.fail("timeZone", "unknown timezone")
		} else {
			dates = dates.In(loc)
		}
	}

	for _, a := range c.addresses("attendees", false) {
		f.Attendees = append(f.Attendees, a.Address)
	}

	start := c.text("start", true)
	if start == "" {
		return f
	}
	// Model output often carries a stale year; absolute timestamps are moved
	// forward before interpretation.
	if corrected, err := dates.CorrectIfPast(start); err == nil {
		start = corrected
	}
	span, err := dates.Interpret(start)
	if err != nil {
		c.fail("start", err.Error())
		return f
	}
	f.Start, f.End = span.Start, span.End

	if end := c.text("end", false); end != "" {
		endAt, err := dates.InterpretEnd(end, span.Start)
		switch {
		case err != nil:
			c.fail("end", err.Error())
		case !endAt.After(span.Start):
			c.fail("end", "must be after start")
		default:
			f.End = endAt
		}
	} else if minutes := c.integer("duration", 0); minutes > 0 {
		f.End = f.Start.Add(time.Duration(minutes) * time.Minute)
	}
	return f
}

// checker reads decoded fields and records the first failure per field.
// Fields that already failed read as zero values.
type checker struct {
	fields map[string]any
	failed map[string]string
}

func (c *checker) fail(field, reason string) {
	if _, ok := c.failed[field]; !ok {
		c.failed[field] = reason
	}
}

func (c *checker) bad(field string) bool {
	_, ok := c.failed[field]
	return ok
}

func (c *checker) text(field string, required bool) string {
	if c.bad(field) {
		return ""
	}
	s, _ := c.fields[field].(string)
	s = strings.TrimSpace(s)
	if required && s == "" {
		c.fail(field, "required")
	}
	return s
}

// content is like text but keeps surrounding whitespace.
func (c *checker) content(field string, required bool) string {
	if c.bad(field) {
		return ""
	}
	s, _ := c.fields[field].(string)
	if required && strings.TrimSpace(s) == "" {
		c.fail(field, "required")
	}
	return s
}

func (c *checker) integer(field string, def int) int {
	if c.bad(field) {
		return def
	}
	n, ok := c.fields[field].(float64)
	if !ok {
		return def
	}
	return int(n)
}

func (c *checker) boolean(field string) bool {
	b, _ := c.fields[field].(bool)
	return b && !c.bad(field)
}

func (c *checker) addresses(field string, required bool) []*mail.Address {
	if c.bad(field) {
		return nil
	}
	list, _ := c.fields[field].([]any)
	out := make([]*mail.Address, 0, len(list))
	for _, item := range list {
		s, _ := item.(string)
		addr, err := mail.ParseAddress(strings.TrimSpace(s))
		if err != nil {
			c.fail(field, fmt.Sprintf("invalid email address %q", s))
			return nil
		}
		out = append(out, addr)
	}
	if required && len(out) == 0 {
		c.fail(field, "at least one address is required")
	}
	return out
}

func (c *checker) email() Fields {
	return EmailFields{
		To:      formatAddresses(c.addresses("to", true)),
		Cc:      formatAddresses(c.addresses("cc", false)),
		Bcc:     formatAddresses(c.addresses("bcc", false)),
		Subject: c.text("subject", true),
		Body:    c.content("body", true),
		HTML:    c.boolean("html"),
	}
}

func (c *checker) err(action Action) error {
	if len(c.failed) == 0 {
		return nil
	}
	fields := make([]string, 0, len(c.failed))
	for f := range c.failed {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return &ValidationError{Action: action, Fields: fields, Reasons: c.failed}
}

func formatAddresses(addrs []*mail.Address) []string {
	if len(addrs) == 0 {
		return nil
	}
	out := make([]string, len(addrs))
	for i, a := range addrs {
		if a.Name == "" {
			out[i] = a.Address
		} else {
			out[i] = a.String()
		}
	}
	return out
}

// decodeFields normalizes raw into plain JSON values so that Go callers and
// JSON callers are validated alike.
func decodeFields(raw map[string]any) (map[string]any, error) {
	decoded := map[string]any{}
	if len(raw) == 0 {
		return decoded, nil
	}
	payload, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, err
	}

	for _, key := range listFields {
		if s, ok := decoded[key].(string); ok {
			decoded[key] = splitList(s)
		}
	}
	for _, key := range integerFields {
		if s, ok := decoded[key].(string); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
				decoded[key] = float64(n)
			}
		}
	}
	return decoded, nil
}

func splitList(s string) []any {
	out := []any{}
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' }) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
