package chat

import "sync/atomic"

// TokenAllocator hands out session tokens starting at 0. Tokens are never
// reclaimed; liveness is tracked by the Registry.
type TokenAllocator struct {
	next atomic.Uint64
}

func (a *TokenAllocator) Next() Token {
	return Token(a.next.Add(1) - 1)
}
