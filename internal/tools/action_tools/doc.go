// Package action_tools registers one MCP tool per supported action:
// gmail_send_email, calendar_create_event and the drive_* file tools.
//
// Each call is a conversation turn. The arguments are resolved exactly like
// fields produced by the intent classifier, so relative dates such as
// "tomorrow at 3pm" work here too. drive_get_file and drive_delete_file accept
// several file ids and run one turn per id.
package action_tools
