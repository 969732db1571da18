package speedtest

// Spawner lets a caller own the goroutines the runner starts for candidate pings.
// When nil, the runner uses plain `go`.
type Spawner interface {
	Go(name string, fn func())
}

// SpawnerFunc adapts a function to Spawner.
type SpawnerFunc func(name string, fn func())

func (f SpawnerFunc) Go(name string, fn func()) { f(name, fn) }
