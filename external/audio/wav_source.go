package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/foxseedlab/kikitori/internal/audio"
	"github.com/youpy/go-wav"
)

const (
	wavChunkDuration   = 40 * time.Millisecond
	wavFormatLinearPCM = 1
)

// WAVSource replays a linear PCM WAV file as if it were a microphone. With
// Realtime set, reads are paced to the file's sample rate.
type WAVSource struct {
	Path     string
	Realtime bool
}

func NewWAVSource(path string) audio.Source {
	return &WAVSource{Path: path, Realtime: true}
}

func (s *WAVSource) MinBufferSize(format audio.Format) (int, error) {
	if err := validatePCM16(format); err != nil {
		return 0, err
	}
	frame := bytesPerFrame(format)
	frames := int(wavChunkDuration * time.Duration(format.SampleRate) / time.Second)
	return frames * frame, nil
}

func (s *WAVSource) Open(format audio.Format, bufferSize int) (audio.Stream, error) {
	if err := validatePCM16(format); err != nil {
		return nil, err
	}
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open wav file: %w", err)
	}
	reader := wav.NewReader(f)
	wf, err := reader.Format()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to read wav format: %w", err)
	}
	if wf.AudioFormat != wavFormatLinearPCM ||
		int(wf.SampleRate) != format.SampleRate ||
		int(wf.NumChannels) != format.Channels ||
		int(wf.BitsPerSample) != format.BitsPerSample {
		_ = f.Close()
		return nil, fmt.Errorf("wav file is %d Hz, %d channel(s), %d bit (format %d); want %d Hz, %d channel(s), %d bit linear PCM",
			wf.SampleRate, wf.NumChannels, wf.BitsPerSample, wf.AudioFormat,
			format.SampleRate, format.Channels, format.BitsPerSample)
	}
	return &wavStream{
		file:           f,
		reader:         reader,
		bytesPerSecond: format.BytesPerSecond(),
		realtime:       s.Realtime,
	}, nil
}

type wavStream struct {
	file           *os.File
	reader         *wav.Reader
	bytesPerSecond int
	realtime       bool
	next           time.Time

	closeOnce sync.Once
	closeErr  error
}

func (s *wavStream) Start() error {
	s.next = time.Now()
	return nil
}

// Read returns io.EOF once the file is exhausted.
func (s *wavStream) Read(buf []byte) (int, error) {
	n, err := io.ReadFull(s.reader, buf)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = nil
	}
	if n == 0 && err == nil {
		err = io.EOF
	}
	if n > 0 && s.realtime {
		s.next = s.next.Add(time.Duration(n) * time.Second / time.Duration(s.bytesPerSecond))
		time.Sleep(time.Until(s.next))
	}
	return n, err
}

func (s *wavStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.file.Close()
	})
	return s.closeErr
}
