// Package gmail implements the send_email capability on top of the Gmail API.
//
// A send is a single messages.send call with an RFC 2822 message. After a
// successful send the capability labels the new message as SENT as a
// follow-up; the dispatch engine treats a failure of that follow-up as a
// degraded success because the email was delivered.
//
// Example usage:
//
//	send := gmail.NewSendCapability(google.ClientConfig{}, metrics, logger)
//	engine, err := dispatch.NewEngine(dispatch.Config{Refresher: manager}, send)
package gmail
