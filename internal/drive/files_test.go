package drive

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/inboxpilot/internal/actions"
	"github.com/teemow/inboxpilot/internal/dispatch"
	"github.com/teemow/inboxpilot/internal/google"
)

type driveRequest struct {
	method string
	path   string
	query  string
	body   string
}

type fakeDrive struct {
	mu       sync.Mutex
	requests []driveRequest
}

var storedFile = map[string]any{
	"id":           "f-1",
	"name":         "budget.xlsx",
	"mimeType":     "application/vnd.google-apps.spreadsheet",
	"modifiedTime": "2024-01-01T09:00:00Z",
	"webViewLink":  "https://docs.google.com/spreadsheets/d/f-1",
	"owners":       []map[string]any{{"emailAddress": "ana@example.com"}},
}

func (f *fakeDrive) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, driveRequest{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery, body: string(body)})
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, "/files/missing"):
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"code":404,"message":"File not found: missing."}}`)
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/files"):
		_ = json.NewEncoder(w).Encode(map[string]any{"files": []any{storedFile}})
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/files/f-1"):
		_ = json.NewEncoder(w).Encode(storedFile)
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/files"):
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "f-2", "name": "notes.txt", "mimeType": "text/plain"})
	case r.Method == http.MethodPatch && strings.HasSuffix(r.URL.Path, "/files/f-1"):
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "f-1", "name": "renamed.xlsx", "mimeType": "application/vnd.google-apps.spreadsheet"})
	case r.Method == http.MethodDelete && strings.HasSuffix(r.URL.Path, "/files/f-1"):
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeDrive) last() driveRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func newCapabilities(t *testing.T, fake *fakeDrive) map[actions.Action]dispatch.Capability {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	out := map[actions.Action]dispatch.Capability{}
	for _, c := range NewFiles(google.ClientConfig{Endpoint: srv.URL + "/"}, nil, nil).Capabilities() {
		out[c.Action()] = c
	}
	return out
}

func TestFiles_Capabilities(t *testing.T) {
	caps := newCapabilities(t, &fakeDrive{})
	assert.Len(t, caps, 5)
	for _, a := range []actions.Action{actions.DriveGet, actions.DriveCreate, actions.DriveUpdate, actions.DriveDelete, actions.DriveSearch} {
		assert.Contains(t, caps, a)
	}
}

func TestFiles_Get(t *testing.T) {
	fake := &fakeDrive{}
	caps := newCapabilities(t, fake)

	payload, err := caps[actions.DriveGet].Invoke(context.Background(), "tok",
		&actions.Request{Action: actions.DriveGet, Fields: actions.FileFields{FileID: "f-1"}})
	require.NoError(t, err)

	assert.Equal(t, "f-1", payload["fileId"])
	assert.Equal(t, "budget.xlsx", payload["name"])
	assert.Equal(t, "2024-01-01T09:00:00Z", payload["modifiedTime"])
	assert.Equal(t, []string{"ana@example.com"}, payload["owners"])
	assert.Contains(t, fake.last().query, "fields=")
}

func TestFiles_GetMissing(t *testing.T) {
	caps := newCapabilities(t, &fakeDrive{})

	_, err := caps[actions.DriveGet].Invoke(context.Background(), "tok",
		&actions.Request{Action: actions.DriveGet, Fields: actions.FileFields{FileID: "missing"}})

	var perr *dispatch.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, dispatch.KindRejected, perr.Kind)
	assert.Equal(t, "File not found: missing.", perr.Detail)
}

func TestFiles_Create(t *testing.T) {
	fake := &fakeDrive{}
	caps := newCapabilities(t, fake)

	payload, err := caps[actions.DriveCreate].Invoke(context.Background(), "tok",
		&actions.Request{Action: actions.DriveCreate, Fields: actions.FileFields{Name: "notes.txt", Content: "hello drive", ParentID: "folder-1"}})
	require.NoError(t, err)
	assert.Equal(t, "f-2", payload["fileId"])

	req := fake.last()
	assert.Equal(t, http.MethodPost, req.method)
	assert.Contains(t, req.query, "uploadType=multipart")
	assert.Contains(t, req.body, `"name":"notes.txt"`)
	assert.Contains(t, req.body, `"parents":["folder-1"]`)
	assert.Contains(t, req.body, "hello drive")
}

func TestFiles_Update(t *testing.T) {
	fake := &fakeDrive{}
	caps := newCapabilities(t, fake)

	payload, err := caps[actions.DriveUpdate].Invoke(context.Background(), "tok",
		&actions.Request{Action: actions.DriveUpdate, Fields: actions.FileFields{FileID: "f-1", Name: "renamed.xlsx"}})
	require.NoError(t, err)
	assert.Equal(t, "renamed.xlsx", payload["name"])
	assert.Equal(t, http.MethodPatch, fake.last().method)
	assert.Contains(t, fake.last().body, `"name":"renamed.xlsx"`)
}

func TestFiles_Delete(t *testing.T) {
	fake := &fakeDrive{}
	caps := newCapabilities(t, fake)

	payload, err := caps[actions.DriveDelete].Invoke(context.Background(), "tok",
		&actions.Request{Action: actions.DriveDelete, Fields: actions.FileFields{FileID: "f-1"}})
	require.NoError(t, err)
	assert.Equal(t, dispatch.Payload{"fileId": "f-1", "deleted": true}, payload)
	assert.Equal(t, http.MethodDelete, fake.last().method)
}

func TestFiles_Search(t *testing.T) {
	fake := &fakeDrive{}
	caps := newCapabilities(t, fake)

	payload, err := caps[actions.DriveSearch].Invoke(context.Background(), "tok",
		&actions.Request{Action: actions.DriveSearch, Fields: actions.SearchFields{Query: "budget", MaxResults: 5}})
	require.NoError(t, err)
	assert.Equal(t, "budget", payload["query"])
	assert.Equal(t, 1, payload["count"])
	files := payload["files"].([]dispatch.Payload)
	assert.Equal(t, "f-1", files[0]["fileId"])

	q := fake.last().query
	assert.Contains(t, q, "pageSize=5")
	assert.Contains(t, q, "trashed")
}

func TestSearchQuery(t *testing.T) {
	assert.Equal(t,
		`(name contains 'budget' or fullText contains 'budget') and trashed = false`,
		searchQuery("budget"))
	assert.Equal(t,
		`(name contains 'ana\'s \\notes' or fullText contains 'ana\'s \\notes') and trashed = false`,
		searchQuery(`ana's \notes`))
}

func TestFiles_WrongFields(t *testing.T) {
	caps := newCapabilities(t, &fakeDrive{})
	_, err := caps[actions.DriveSearch].Invoke(context.Background(), "tok",
		&actions.Request{Action: actions.DriveSearch, Fields: actions.FileFields{}})

	var perr *dispatch.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, dispatch.KindRejected, perr.Kind)
}
