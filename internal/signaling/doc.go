// Package signaling implements the room signaling protocol spoken between mesh
// participants and the relay: the JSON wire messages, the offer/answer/ICE
// envelope, and a reconnecting WebSocket client channel.
//
// The relay forwards envelopes opaquely; only the mesh engine and the
// transport interpret them.
package signaling
