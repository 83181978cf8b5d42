// Package ssehttp serves streaming sessions over HTTP as Server-Sent Events.
// It mounts as a standard net/http handler.
//
// Construction
//
//	h, err := ssehttp.New(
//	    bridge,   // bridge.Bridge, e.g. redisbridge
//	    resolver, // lifecycle.Resolver, or nil to disable finish tracking
//	    ssehttp.WithPath("/stream"),
//	    ssehttp.WithProbe(""),
//	)
//
// # Streaming
//
// GET <path>?channel=<name> opens one session for the named channel (or
// sse.DefaultChannel) and writes every segment as it is produced, flushing
// after each one. A channel whose finish marker is gone gets 204 No Content
// so that EventSource clients stop reconnecting. Clients that cannot accept
// text/event-stream get 406.
//
// The stream ends when the channel finishes, a publisher sends the
// disconnect control signal, or the client goes away. In every case the
// session's subscription is released before the handler returns.
//
// # Publishing
//
// WithPublishEndpoints additionally mounts POST <path>/publish and
// POST <path>/control for publishers that cannot reach the bus directly.
// Both respond with {"delivered":<n>}. These endpoints carry no
// authentication of their own; mount them behind whatever the deployment
// uses.
//
// Example (mount in net/http):
//
//	mux := http.NewServeMux()
//	mux.Handle("/stream", h)
//	http.ListenAndServe(":8080", mux)
package ssehttp
