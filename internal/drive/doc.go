// Package drive implements the drive_get, drive_create, drive_update,
// drive_delete and drive_search capabilities on top of the Google Drive API.
//
// Example usage:
//
//	files := drive.NewFiles(google.ClientConfig{}, metrics, logger)
//	engine, err := dispatch.NewEngine(cfg, files.Capabilities()...)
package drive
