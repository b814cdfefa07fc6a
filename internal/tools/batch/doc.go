// Package batch runs one tool operation over several ids.
//
// Tools such as drive_delete_file accept either one id or a list; each id is
// processed independently and partial failures are reported per id.
package batch
