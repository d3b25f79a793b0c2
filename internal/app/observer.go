package app

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"
)

const observerBuffer = 256

// EventObserver forwards session notifications to the bubbletea program as
// messages. After Close notifications are dropped instead of waiting for a
// program that no longer reads them.
type EventObserver struct {
	events    chan tea.Msg
	done      chan struct{}
	closeOnce sync.Once
}

func NewEventObserver() *EventObserver {
	return &EventObserver{
		events: make(chan tea.Msg, observerBuffer),
		done:   make(chan struct{}),
	}
}

func (o *EventObserver) Events() <-chan tea.Msg {
	return o.events
}

// Close stops delivery. Call it once the program has exited.
func (o *EventObserver) Close() {
	o.closeOnce.Do(func() { close(o.done) })
}

func (o *EventObserver) OnTextResult(text string, isFinal bool) {
	o.send(TextResultMsg{Text: text, IsFinal: isFinal})
}

func (o *EventObserver) OnError(message string) {
	o.send(ErrorMsg{Message: message})
}

func (o *EventObserver) OnConnectionStatusChanged(connected bool) {
	o.send(ConnectionStatusMsg{Connected: connected})
}

func (o *EventObserver) send(msg tea.Msg) {
	select {
	case <-o.done:
		return
	default:
	}
	select {
	case o.events <- msg:
	case <-o.done:
	}
}

// waitForEventCmd delivers the next session notification.
func waitForEventCmd(events <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-events
		if !ok {
			return nil
		}
		return msg
	}
}
