// Package relay is the reference signaling relay for the mesh: it groups
// WebSocket connections into rooms, assigns participant ids, forwards
// signal envelopes between members of the same room and fans chat out to
// every member.
//
// The relay never inspects SDP or candidates; envelopes are validated for
// shape only and forwarded verbatim.
package relay
