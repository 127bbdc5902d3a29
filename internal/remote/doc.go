// Package remote connects the chat session controller to a coven-chatd
// gateway over HTTP.
//
// Client implements query.Client (Fetch, Write, Subscribe over server-sent
// events), session.Authenticator and session.TokenSetter:
//
//	client := remote.New("http://127.0.0.1:8420")
//	ctrl, err := session.New(session.Config{Client: client, Auth: client})
//
// Live subscriptions do not reconnect. When the gateway closes a stream the
// handler receives one error event wrapping ErrStreamEnded and the stream
// stops.
package remote
