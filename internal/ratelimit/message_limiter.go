package ratelimit

// MessageLimiter bounds the inbound frame rate of one signaling connection.
// The burst equals one second's allowance.
type MessageLimiter struct {
	bucket *TokenBucket
}

func NewMessageLimiter(clock Clock, perSecond int) *MessageLimiter {
	return &MessageLimiter{bucket: NewTokenBucket(clock, int64(perSecond), int64(perSecond))}
}

// Allow records one message and reports whether it is within budget.
func (l *MessageLimiter) Allow() bool {
	return l.bucket.Allow(1)
}
