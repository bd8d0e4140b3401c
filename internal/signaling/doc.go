// Package signaling implements the WebSocket gateway of the relay: it owns
// connection lifecycle, decodes the event envelope, and dispatches room and
// session-negotiation events through a single goroutine so that registry
// mutation and fan-out happen run-to-completion in arrival order.
//
// Offer, answer and ICE candidate payloads are relayed opaquely. The gateway
// never inspects SDP or candidate contents; it only stamps routing metadata
// (sender connection id, message ids) onto the forwarded frames.
package signaling
