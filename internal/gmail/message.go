package gmail

import (
	"encoding/base64"
	"mime"
	"strings"

	"github.com/teemow/inboxpilot/internal/actions"
)

// encodeRFC2047 encodes a string for use in email headers according to RFC 2047
// This is necessary for non-ASCII characters (like Spanish accents) in subjects
func encodeRFC2047(s string) string {
	for _, r := range s {
		if r > 127 {
			return mime.BEncoding.Encode("UTF-8", s)
		}
	}
	return s
}

// buildMessage renders f as an RFC 2822 message.
func buildMessage(f actions.EmailFields) string {
	var b strings.Builder

	writeHeader := func(name, value string) {
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(value)
		b.WriteString("\r\n")
	}

	writeHeader("To", strings.Join(f.To, ", "))
	if len(f.Cc) > 0 {
		writeHeader("Cc", strings.Join(f.Cc, ", "))
	}
	if len(f.Bcc) > 0 {
		writeHeader("Bcc", strings.Join(f.Bcc, ", "))
	}
	writeHeader("Subject", encodeRFC2047(f.Subject))
	if f.HTML {
		writeHeader("Content-Type", `text/html; charset="UTF-8"`)
	} else {
		writeHeader("Content-Type", `text/plain; charset="UTF-8"`)
	}
	writeHeader("MIME-Version", "1.0")
	b.WriteString("\r\n")
	b.WriteString(f.Body)

	return b.String()
}

// encodeRaw encodes a message for the Gmail API raw field (base64url).
func encodeRaw(msg string) string {
	return base64.URLEncoding.EncodeToString([]byte(msg))
}
