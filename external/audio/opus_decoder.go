//go:build opus

package audio

import (
	"encoding/binary"
	"sync"

	"github.com/hraban/opus"
	audiopkg "github.com/movehive/voicedesk/internal/audio"
)

const (
	sampleRate      = 48000
	channels        = 2
	frameSizeMs     = 20
	samplesPerFrame = sampleRate * frameSizeMs * channels / 1000
)

// OpusDecoder decodes one participant track. Frames queue between the
// packet callback and the transcriber pump, which drains on its own tick.
type OpusDecoder struct {
	mu     sync.Mutex
	dec    *opus.Decoder
	frames [][]int16
	closed bool
}

func NewOpusDecoder() audiopkg.Decoder {
	return &OpusDecoder{}
}

func (d *OpusDecoder) WritePacket(opusPacket []byte) {
	if len(opusPacket) == 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	if d.dec == nil {
		dec, err := opus.NewDecoder(sampleRate, channels)
		if err != nil {
			return
		}
		d.dec = dec
	}
	pcm := make([]int16, samplesPerFrame)
	n, err := d.dec.Decode(opusPacket, pcm)
	if err != nil || n == 0 {
		return
	}
	totalSamples := n * channels
	if totalSamples > samplesPerFrame {
		totalSamples = samplesPerFrame
	}
	frame := make([]int16, totalSamples)
	copy(frame, pcm[:totalSamples])
	d.frames = append(d.frames, frame)
}

func (d *OpusDecoder) ReadPCM(buf []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || len(d.frames) == 0 {
		return 0, nil
	}
	frame := d.frames[0]
	d.frames = d.frames[1:]

	toWrite := len(buf) / 2
	if toWrite > len(frame) {
		toWrite = len(frame)
	}
	for i := 0; i < toWrite; i++ {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(frame[i]))
	}
	return toWrite * 2, nil
}

func (d *OpusDecoder) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.frames = nil
	d.dec = nil
}
