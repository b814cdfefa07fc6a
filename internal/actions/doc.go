// Package actions turns raw caller input into validated operation requests.
//
// Each supported action declares a JSON schema for the shapes of its fields
// and a set of semantic checks (required values, email syntax, date
// resolution). Resolve reports every failing field at once so callers can ask
// for clarification in a single round, and it never touches a provider.
package actions
