// Package protocol defines the hyperstar wire protocol: the event
// vocabulary pushed from server to client, the SSE framing those events
// travel in, and the action request/response shapes used on the HTTP
// dispatch channel.
//
// Every push message carries an event name, a JSON payload, and a
// monotonically assigned id. The client records the last id it has seen
// and replays it on reconnect via the Last-Event-ID header. Delivery is
// at-least-once; every event kind is defined so that applying the same
// event twice is harmless.
//
// The action-response channel reuses the same event vocabulary, scoped
// to a single request: a dispatch may return immediate events (for
// example a signals patch) or no body at all when the action produced
// no direct-response patches.
package protocol
