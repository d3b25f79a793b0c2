package audio

// Format describes linear PCM capture parameters.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// BytesPerSecond is the byte rate of the format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * f.BitsPerSample / 8
}

// Stream is an opened capture device. Read blocks until one chunk is
// available. Close must tolerate being called more than once.
type Stream interface {
	Start() error
	Read(buf []byte) (int, error)
	Close() error
}

// Source opens capture streams. MinBufferSize reports the smallest buffer,
// in bytes, the device accepts for format; bufferSize passed to Open is a
// multiple of it.
type Source interface {
	MinBufferSize(format Format) (int, error)
	Open(format Format, bufferSize int) (Stream, error)
}
