package audio

import (
	audiopkg "github.com/movehive/voicedesk/internal/audio"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.ProvideValue(injector, audiopkg.DecoderFactory(func() audiopkg.Decoder {
		return NewOpusDecoder()
	}))
}
