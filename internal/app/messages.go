package app

// TextResultMsg carries a transcription result. Text is the whole transcript
// when IsFinal is set and the interim fragment otherwise.
type TextResultMsg struct {
	Text    string
	IsFinal bool
}

// ErrorMsg carries an error reported by the session client.
type ErrorMsg struct {
	Message string
}

// ConnectionStatusMsg reports that the connection opened or closed.
type ConnectionStatusMsg struct {
	Connected bool
}

// ClearNoticeMsg clears the transient notice and error after a timeout.
type ClearNoticeMsg struct {
	seq int
}
