// Package conversation stores conversation messages and pushes new ones to
// live subscribers.
//
// A SyncStore wraps a persistence Backend (memory, SQL or DynamoDB) and owns
// the commit order of each conversation: appends to one conversation are
// serialized, stamped with a strictly increasing server timestamp and fanned
// out to subscribers while still holding the conversation's commit lock. Every
// subscriber therefore observes the same order, which is the order the
// backend committed.
//
// Timeline is the client-side view of one conversation. It merges the bulk
// history with the live stream, shows optimistic messages while the store is
// unavailable and replaces them once a retried append succeeds.
package conversation
