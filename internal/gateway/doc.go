// Package gateway serves the coven-chat HTTP API.
//
// # Endpoints
//
//	POST /api/auth/signup  {email, name, password} -> {user, token, expires_at}
//	POST /api/auth/login   {email, password}       -> {user, token, expires_at}
//	POST /api/query        {collection, filter}    -> {records}
//	POST /api/write        {collection, record}    -> {id, status}
//	GET  /api/live?collection=NAME&filter=JSON     -> text/event-stream
//	GET  /health, /health/ready
//
// Query, write and live require "Authorization: Bearer <token>"; live also
// accepts ?access_token= for EventSource clients.
//
// # Visibility
//
// Reads of messages and chats are narrowed to records the caller sent,
// received, or that were broadcast to "ALL". The users collection is visible
// to every authenticated caller.
//
// # Writes
//
// A message must be sent as the caller. Its id defaults to a new UUID and
// its time to now. Each stored message updates the chats collection with a
// summary keyed by the ordered participant pair ("ALL" for broadcast).
// Repeating a message id inside the dedupe window is acknowledged with
// status "duplicate" and nothing is re-published. A user may only update
// their own users record.
//
// # Live streams
//
// A live stream first sends a "ready" event, then "data" events carrying
// {records} and "error" events carrying {error}. Whether data events hold the
// full match set or only changed records depends on live.push_mode.
package gateway
