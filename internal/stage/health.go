package stage

// Health is a handler's answer to "could you run right now?".
type Health struct {
	Name   string
	Ready  bool
	Detail string
}

// Healthy reports a ready handler.
func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

// Unhealthy reports a handler that would fail if claimed work reached it.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Detail: detail}
}
