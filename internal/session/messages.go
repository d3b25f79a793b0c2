package session

const (
	messageNotConnected        = "WebSocket not connected"
	messageWebSocketErrorFmt   = "WebSocket error: %s"
	messageInvalidURIFmt       = "Invalid URI: %s"
	messageBufferSizeError     = "Buffer size error"
	messageCaptureInitFmt      = "Error initializing audio recording: %s"
	messageCaptureReadFmt      = "Audio capture error: %s"
	messageAttachmentTitle     = ":page_facing_up:  **Transcript**"
	messageArchiveFailedFmt    = ":warning: Session `%s` could not be archived, so its transcript will not be posted."
	messageAttachmentPeriodFmt = "-# %s ~ %s (%s)"

	speakerLabelFmt = "Speaker %d: "
)
