package audio

import (
	"fmt"

	"github.com/foxseedlab/kikitori/internal/audio"
	"github.com/foxseedlab/kikitori/internal/config"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (audio.Source, error) {
		c := do.MustInvoke[*config.Config](i)
		switch c.AudioSource {
		case config.AudioSourceMicrophone:
			return NewPortAudioSource(c.AudioDeviceID), nil
		case config.AudioSourceWAV:
			return NewWAVSource(c.AudioWAVPath), nil
		default:
			return nil, fmt.Errorf("unknown audio source %q", c.AudioSource)
		}
	})
}
