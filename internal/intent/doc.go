// Package intent turns a free-text user request into an action name and the
// raw entities the action resolver needs. Entities are returned as the user
// phrased them; dates stay as phrases for the date interpreter.
package intent
