package audio

// Decoder turns one participant's encoded audio packets into a contiguous
// PCM stream for the transcriber.
type Decoder interface {
	WritePacket(opusPacket []byte)
	// ReadPCM drains up to len(buf) bytes of decoded little-endian 16-bit
	// PCM. Returns 0 when no frame is buffered.
	ReadPCM(buf []byte) (int, error)
	Close()
}

type DecoderFactory func() Decoder
