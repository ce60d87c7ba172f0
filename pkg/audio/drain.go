package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to prevent goroutine leaks when a consumer stops early on a
// streaming channel (e.g., pipeline results or segment streams).
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
