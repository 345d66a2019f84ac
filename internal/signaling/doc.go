// Package signaling is the WebSocket surface that pairs patients with nurses.
//
// A Router owns the participant registry and the alert ledger and applies
// every inbound frame as one guarded transition. Negotiation payloads (offers,
// answers, ICE candidates) are opaque and forwarded verbatim.
package signaling
