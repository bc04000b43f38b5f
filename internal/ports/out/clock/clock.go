package clock

import "time"

// Clock provides time to the application.
// Outing start checks and booking timestamps read it, so tests can pin "now".
type Clock interface {
	Now() time.Time
}

// Func adapts a function to Clock.
type Func func() time.Time

func (f Func) Now() time.Time { return f() }
