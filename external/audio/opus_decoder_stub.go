//go:build !opus

package audio

import audiopkg "github.com/movehive/voicedesk/internal/audio"

type noopDecoder struct{}

func NewOpusDecoder() audiopkg.Decoder {
	return &noopDecoder{}
}

func (d *noopDecoder) WritePacket(_ []byte) {}

func (d *noopDecoder) ReadPCM(_ []byte) (int, error) {
	return 0, nil
}

func (d *noopDecoder) Close() {}
