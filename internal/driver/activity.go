package driver

// ActivitySink is notified with the head identity after every successful
// move. Calls are fire-and-forget and must not block.
type ActivitySink interface {
	HeadActivity(head string)
}

// ActivityFunc adapts a function to ActivitySink.
type ActivityFunc func(head string)

func (f ActivityFunc) HeadActivity(head string) { f(head) }

type noopActivity struct{}

func (noopActivity) HeadActivity(string) {}
