package drive

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"

	"github.com/teemow/inboxpilot/internal/actions"
	"github.com/teemow/inboxpilot/internal/dispatch"
	"github.com/teemow/inboxpilot/internal/google"
	"github.com/teemow/inboxpilot/internal/instrumentation"
	"github.com/teemow/inboxpilot/internal/logging"
)

// DefaultMimeType is used for created files without an explicit type.
const DefaultMimeType = "text/plain"

// Files performs file operations for the drive capabilities.
type Files struct {
	client  google.ClientConfig
	metrics *instrumentation.Metrics
	logger  *slog.Logger
}

// NewFiles creates the drive capability set.
func NewFiles(client google.ClientConfig, metrics *instrumentation.Metrics, logger *slog.Logger) *Files {
	if logger == nil {
		logger = slog.Default()
	}
	return &Files{
		client:  client,
		metrics: metrics,
		logger:  logging.WithService(logger, instrumentation.ServiceDrive),
	}
}

// Capabilities returns one capability per drive action.
func (f *Files) Capabilities() []dispatch.Capability {
	return []dispatch.Capability{
		dispatch.CapabilityFunc{Name: actions.DriveGet, Fn: f.get},
		dispatch.CapabilityFunc{Name: actions.DriveCreate, Fn: f.create},
		dispatch.CapabilityFunc{Name: actions.DriveUpdate, Fn: f.update},
		dispatch.CapabilityFunc{Name: actions.DriveDelete, Fn: f.delete},
		dispatch.CapabilityFunc{Name: actions.DriveSearch, Fn: f.search},
	}
}

func (f *Files) service(ctx context.Context, accessToken string) (*drive.Service, error) {
	svc, err := drive.NewService(ctx, f.client.Options(accessToken)...)
	if err != nil {
		return nil, dispatch.Transient("create drive service", err)
	}
	return svc, nil
}

func fileFieldsOf(req *actions.Request) (actions.FileFields, error) {
	ff, ok := req.Fields.(actions.FileFields)
	if !ok {
		return ff, dispatch.Rejected(fmt.Sprintf("unexpected fields %T for %s", req.Fields, req.Action), nil)
	}
	return ff, nil
}

func (f *Files) get(ctx context.Context, accessToken string, req *actions.Request) (dispatch.Payload, error) {
	ff, err := fileFieldsOf(req)
	if err != nil {
		return nil, err
	}
	svc, err := f.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	file, err := google.Call(ctx, f.metrics, instrumentation.ServiceDrive, instrumentation.OperationGet,
		func(ctx context.Context) (*drive.File, error) {
			return svc.Files.Get(ff.FileID).Fields(fileFields).Context(ctx).Do()
		})
	if err != nil {
		return nil, err
	}
	return convertToFileInfo(file).Payload(), nil
}

func (f *Files) create(ctx context.Context, accessToken string, req *actions.Request) (dispatch.Payload, error) {
	ff, err := fileFieldsOf(req)
	if err != nil {
		return nil, err
	}
	svc, err := f.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	meta := &drive.File{Name: ff.Name, MimeType: ff.MimeType}
	if meta.MimeType == "" {
		meta.MimeType = DefaultMimeType
	}
	if ff.ParentID != "" {
		meta.Parents = []string{ff.ParentID}
	}

	file, err := google.Call(ctx, f.metrics, instrumentation.ServiceDrive, instrumentation.OperationCreate,
		func(ctx context.Context) (*drive.File, error) {
			return svc.Files.Create(meta).
				Media(strings.NewReader(ff.Content), googleapi.ContentType(meta.MimeType)).
				Fields(fileFields).
				Context(ctx).
				Do()
		})
	if err != nil {
		return nil, err
	}
	f.logger.Info("file created", slog.String("file_id", file.Id))
	return convertToFileInfo(file).Payload(), nil
}

func (f *Files) update(ctx context.Context, accessToken string, req *actions.Request) (dispatch.Payload, error) {
	ff, err := fileFieldsOf(req)
	if err != nil {
		return nil, err
	}
	svc, err := f.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	file, err := google.Call(ctx, f.metrics, instrumentation.ServiceDrive, instrumentation.OperationUpdate,
		func(ctx context.Context) (*drive.File, error) {
			call := svc.Files.Update(ff.FileID, &drive.File{Name: ff.Name}).Fields(fileFields).Context(ctx)
			if ff.Content != "" {
				call = call.Media(strings.NewReader(ff.Content))
			}
			return call.Do()
		})
	if err != nil {
		return nil, err
	}
	return convertToFileInfo(file).Payload(), nil
}

func (f *Files) delete(ctx context.Context, accessToken string, req *actions.Request) (dispatch.Payload, error) {
	ff, err := fileFieldsOf(req)
	if err != nil {
		return nil, err
	}
	svc, err := f.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	_, err = google.Call(ctx, f.metrics, instrumentation.ServiceDrive, instrumentation.OperationDelete,
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, svc.Files.Delete(ff.FileID).Context(ctx).Do()
		})
	if err != nil {
		return nil, err
	}
	f.logger.Info("file deleted", slog.String("file_id", ff.FileID))
	return dispatch.Payload{"fileId": ff.FileID, "deleted": true}, nil
}

func (f *Files) search(ctx context.Context, accessToken string, req *actions.Request) (dispatch.Payload, error) {
	sf, ok := req.Fields.(actions.SearchFields)
	if !ok {
		return nil, dispatch.Rejected(fmt.Sprintf("unexpected fields %T for drive_search", req.Fields), nil)
	}
	svc, err := f.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	list, err := google.Call(ctx, f.metrics, instrumentation.ServiceDrive, instrumentation.OperationSearch,
		func(ctx context.Context) (*drive.FileList, error) {
			return svc.Files.List().
				Q(searchQuery(sf.Query)).
				PageSize(int64(sf.MaxResults)).
				OrderBy("modifiedTime desc").
				Fields(googleapi.Field("files(" + fileFields + ")")).
				Context(ctx).
				Do()
		})
	if err != nil {
		return nil, err
	}

	files := make([]dispatch.Payload, 0, len(list.Files))
	for _, file := range list.Files {
		files = append(files, convertToFileInfo(file).Payload())
	}
	return dispatch.Payload{"query": sf.Query, "files": files, "count": len(files)}, nil
}

// searchQuery turns free text into a Drive query over names and contents,
// excluding trashed files.
func searchQuery(text string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(text)
	return fmt.Sprintf("(name contains '%s' or fullText contains '%s') and trashed = false", escaped, escaped)
}
