package google

import (
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/drive/v3"
	gmail "google.golang.org/api/gmail/v1"
)

// DefaultOAuthScopes are the scopes a credential needs for every capability.
//
// The scopes provide access to:
//   - Gmail: send, and modify for labeling sent messages
//   - Google Calendar: event creation
//   - Google Drive: full file access
var DefaultOAuthScopes = []string{
	// OpenID Connect scopes (required for user info)
	"openid",
	"https://www.googleapis.com/auth/userinfo.email",

	gmail.GmailSendScope,
	gmail.GmailModifyScope,
	calendar.CalendarEventsScope,
	drive.DriveScope,
}
