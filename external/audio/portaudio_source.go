package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/foxseedlab/kikitori/internal/audio"
	"github.com/gordonklaus/portaudio"
)

const minFramesPerBuffer = 256

type InputDevice struct {
	ID                int
	Name              string
	MaxInputChannels  int
	DefaultSampleRate float64
}

// PortAudioSource captures from a PortAudio input device. A negative DeviceID
// selects the host's default input device; otherwise it is an index as
// printed by ListInputDevices.
type PortAudioSource struct {
	DeviceID int
}

func NewPortAudioSource(deviceID int) audio.Source {
	return &PortAudioSource{DeviceID: deviceID}
}

func (s *PortAudioSource) MinBufferSize(format audio.Format) (int, error) {
	if err := validatePCM16(format); err != nil {
		return 0, err
	}
	if err := portaudio.Initialize(); err != nil {
		return 0, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	defer portaudio.Terminate()

	device, err := s.inputDevice()
	if err != nil {
		return 0, err
	}
	return framesForLatency(device.DefaultLowInputLatency, format.SampleRate) * bytesPerFrame(format), nil
}

func (s *PortAudioSource) Open(format audio.Format, bufferSize int) (audio.Stream, error) {
	if err := validatePCM16(format); err != nil {
		return nil, err
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	device, err := s.inputDevice()
	if err != nil {
		_ = portaudio.Terminate()
		return nil, err
	}

	chunkFrames := framesForLatency(device.DefaultLowInputLatency, format.SampleRate)
	bufferFrames := bufferSize / bytesPerFrame(format)
	if bufferFrames < chunkFrames {
		bufferFrames = chunkFrames
	}
	slog.Info("opening audio input",
		"device_id", s.DeviceID,
		"device_name", device.Name,
		"sample_rate", format.SampleRate,
		"chunk_frames", chunkFrames,
		"buffer_frames", bufferFrames)

	samples := make([]int16, chunkFrames*format.Channels)
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: format.Channels,
			Latency:  time.Duration(bufferFrames) * time.Second / time.Duration(format.SampleRate),
		},
		SampleRate:      float64(format.SampleRate),
		FramesPerBuffer: chunkFrames,
	}
	stream, err := portaudio.OpenStream(params, samples)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("failed to open audio stream: %w", err)
	}
	return &portAudioStream{stream: stream, samples: samples}, nil
}

func (s *PortAudioSource) inputDevice() (*portaudio.DeviceInfo, error) {
	if s.DeviceID < 0 {
		device, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("failed to get default input device: %w", err)
		}
		return device, nil
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to get audio devices: %w", err)
	}
	return selectInputDevice(devices, s.DeviceID)
}

func selectInputDevice(devices []*portaudio.DeviceInfo, id int) (*portaudio.DeviceInfo, error) {
	if id < 0 || id >= len(devices) {
		return nil, fmt.Errorf("invalid device id %d", id)
	}
	device := devices[id]
	if device.MaxInputChannels == 0 {
		return nil, fmt.Errorf("device %d (%s) is not an input device", id, device.Name)
	}
	return device, nil
}

type portAudioStream struct {
	stream    *portaudio.Stream
	samples   []int16
	closeOnce sync.Once
	closeErr  error
}

func (s *portAudioStream) Start() error {
	return s.stream.Start()
}

// Read blocks for one chunk and encodes it as little-endian PCM16.
func (s *portAudioStream) Read(buf []byte) (int, error) {
	if len(buf) < len(s.samples)*2 {
		return 0, fmt.Errorf("read buffer too small: %d < %d", len(buf), len(s.samples)*2)
	}
	if err := s.stream.Read(); err != nil {
		if !errors.Is(err, portaudio.InputOverflowed) {
			return 0, err
		}
		slog.Debug("audio input overflowed")
	}
	for i, sample := range s.samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(sample))
	}
	return len(s.samples) * 2, nil
}

func (s *portAudioStream) Close() error {
	s.closeOnce.Do(func() {
		if err := s.stream.Stop(); err != nil {
			slog.Debug("failed to stop audio stream", "error", err)
		}
		s.closeErr = s.stream.Close()
		if err := portaudio.Terminate(); err != nil {
			slog.Debug("failed to terminate PortAudio", "error", err)
		}
	})
	return s.closeErr
}

// ListInputDevices returns the host's devices that can capture audio.
func ListInputDevices() ([]InputDevice, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to get devices: %w", err)
	}
	inputs := make([]InputDevice, 0)
	for i, device := range devices {
		if device.MaxInputChannels > 0 {
			inputs = append(inputs, InputDevice{
				ID:                i,
				Name:              device.Name,
				MaxInputChannels:  device.MaxInputChannels,
				DefaultSampleRate: device.DefaultSampleRate,
			})
		}
	}
	return inputs, nil
}

func framesForLatency(latency time.Duration, sampleRate int) int {
	frames := int(math.Ceil(latency.Seconds() * float64(sampleRate)))
	if frames < minFramesPerBuffer {
		return minFramesPerBuffer
	}
	return frames
}

func bytesPerFrame(format audio.Format) int {
	return format.Channels * format.BitsPerSample / 8
}

func validatePCM16(format audio.Format) error {
	if format.BitsPerSample != 16 {
		return fmt.Errorf("unsupported sample size %d bits", format.BitsPerSample)
	}
	if format.SampleRate <= 0 || format.Channels <= 0 {
		return fmt.Errorf("invalid audio format %+v", format)
	}
	return nil
}
