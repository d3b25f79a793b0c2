package session

// Observer receives the client's notifications. Calls arrive from the
// transport's reader goroutine, the capture goroutine or the caller's own
// goroutine; implementations must not block for long.
type Observer interface {
	// OnTextResult carries the whole accumulated transcript when isFinal is
	// true and only the interim fragment otherwise.
	OnTextResult(text string, isFinal bool)
	OnError(message string)
	OnConnectionStatusChanged(connected bool)
}

type nopObserver struct{}

func (nopObserver) OnTextResult(string, bool)      {}
func (nopObserver) OnError(string)                 {}
func (nopObserver) OnConnectionStatusChanged(bool) {}
