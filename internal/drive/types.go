package drive

import (
	"time"

	"google.golang.org/api/drive/v3"

	"github.com/teemow/inboxpilot/internal/dispatch"
)

// fileFields is the partial response requested for every file.
const fileFields = "id, name, mimeType, size, createdTime, modifiedTime, webViewLink, parents, owners, trashed"

// FileInfo represents metadata about a file or folder in Google Drive
type FileInfo struct {
	ID           string
	Name         string
	MimeType     string
	Size         int64
	CreatedTime  time.Time
	ModifiedTime time.Time
	WebViewLink  string
	Parents      []string
	Owners       []string
	Trashed      bool
}

// convertToFileInfo converts a Drive API File to our FileInfo type
func convertToFileInfo(f *drive.File) FileInfo {
	info := FileInfo{
		ID:          f.Id,
		Name:        f.Name,
		MimeType:    f.MimeType,
		Size:        f.Size,
		WebViewLink: f.WebViewLink,
		Parents:     f.Parents,
		Trashed:     f.Trashed,
	}
	if t, err := time.Parse(time.RFC3339, f.CreatedTime); err == nil {
		info.CreatedTime = t
	}
	if t, err := time.Parse(time.RFC3339, f.ModifiedTime); err == nil {
		info.ModifiedTime = t
	}
	for _, owner := range f.Owners {
		info.Owners = append(info.Owners, owner.EmailAddress)
	}
	return info
}

// Payload returns the file as a dispatch payload keyed by fileId.
func (f FileInfo) Payload() dispatch.Payload {
	p := dispatch.Payload{
		"fileId":   f.ID,
		"name":     f.Name,
		"mimeType": f.MimeType,
	}
	if f.WebViewLink != "" {
		p["webViewLink"] = f.WebViewLink
	}
	if f.Size > 0 {
		p["size"] = f.Size
	}
	if !f.ModifiedTime.IsZero() {
		p["modifiedTime"] = f.ModifiedTime.Format(time.RFC3339)
	}
	if len(f.Parents) > 0 {
		p["parents"] = f.Parents
	}
	if len(f.Owners) > 0 {
		p["owners"] = f.Owners
	}
	return p
}
