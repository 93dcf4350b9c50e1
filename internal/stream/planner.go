package stream

// Feed-side session limits. A single websocket session accepts at most 3000
// subscribed tokens and one API key may hold at most 3 concurrent sessions.
const (
	MaxTokensPerSession     = 3000
	MaxWebsocketConnections = 3
)

// connectionCount returns how many sessions are needed for tokenCount tokens,
// capped at maxConnections. Zero tokens need zero sessions.
func connectionCount(tokenCount, maxConnections int) int {
	if tokenCount <= 0 {
		return 0
	}
	n := (tokenCount + MaxTokensPerSession - 1) / MaxTokensPerSession
	if n > maxConnections {
		n = maxConnections
	}
	return n
}

// partition splits tokens into n contiguous slices of at most
// MaxTokensPerSession each, preserving order.
func partition(tokens []uint32, n int) [][]uint32 {
	parts := make([][]uint32, 0, n)
	for i := 0; i < n; i++ {
		lo := i * MaxTokensPerSession
		hi := lo + MaxTokensPerSession
		if hi > len(tokens) {
			hi = len(tokens)
		}
		parts = append(parts, tokens[lo:hi])
	}
	return parts
}
