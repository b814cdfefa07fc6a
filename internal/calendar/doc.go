// Package calendar implements the create_event capability on top of the
// Google Calendar API.
package calendar
