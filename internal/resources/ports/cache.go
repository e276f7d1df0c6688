package ports

// Cache holds successfully decoded payloads by resource key. All managers in
// a process share one instance so they agree on a single key-to-payload
// mapping.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Len() int
}
