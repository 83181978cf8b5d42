// Package sse defines the values that travel between publishers, the pub/sub
// bus and Server-Sent Events clients, together with their two encodings.
//
// # Bus envelope
//
// Publishers put a JSON object on the bus. Data messages carry a required
// "data" key and optional "type", "id" and "retry" keys:
//
//	{"data":"roll:4","type":"dice","id":"42"}
//
// Control signals carry a single "sse-control" key and are consumed by the
// streaming sessions, never by clients:
//
//	{"sse-control":"disconnect"}
//
// # Wire format
//
// Message.Encode renders the text/event-stream form understood by browser
// EventSource implementations. Probe lines start with a colon so that
// clients discard them without dispatching an event.
package sse
