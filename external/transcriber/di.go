package transcriber

import (
	"fmt"

	"github.com/foxseedlab/kikitori/internal/config"
	"github.com/foxseedlab/kikitori/internal/transcriber"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (transcriber.Transcriber, error) {
		c := do.MustInvoke[*config.Config](i)
		switch c.Transcriber {
		case config.TranscriberDeepgram:
			return NewDeepgramTranscriber(DeepgramConfig{
				APIKey:           c.DeepgramAPIKey,
				Endpoint:         c.DeepgramEndpoint,
				Model:            c.DeepgramModel,
				Language:         c.TranscribeLanguage,
				SmartFormat:      c.DeepgramSmartFormat,
				InterimResults:   c.DeepgramInterimResults,
				Diarize:          c.DeepgramDiarize,
				UtteranceEndMs:   c.DeepgramUtteranceEndMs,
				EndpointingMs:    c.DeepgramEndpointingMs,
				HandshakeTimeout: c.ConnectTimeout,
			}), nil
		case config.TranscriberGoogle:
			return NewCloudSpeechTranscriber(CloudSpeechConfig{
				ProjectID:       c.GoogleCloudProjectID,
				CredentialsJSON: c.GoogleCloudCredentialsJSON,
				Language:        c.TranscribeLanguage,
				Location:        c.GoogleCloudSpeechLocation,
				Model:           c.GoogleCloudSpeechModel,
			}), nil
		default:
			return nil, fmt.Errorf("unknown transcriber %q", c.Transcriber)
		}
	})
}
