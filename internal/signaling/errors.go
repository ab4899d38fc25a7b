package signaling

import "errors"

var (
	// ErrSignalingDisconnected wraps every connection-level failure surfaced
	// through Disconnected and Closed events.
	ErrSignalingDisconnected = errors.New("signaling disconnected")
	ErrNotConnected          = errors.New("signaling channel not connected")
	ErrSendQueueFull         = errors.New("signaling send queue full")
	ErrChannelClosed         = errors.New("signaling channel closed")
)
