// consts.go: fixed audio pipeline parameters shared by every component.
package conf

const (
	// SampleRate is the output sample rate in Hz.
	SampleRate = 44100

	// NumChannels is the default channel count for rendered output.
	NumChannels = 2

	// BlockSize is the fixed render quantum in frames. Every ring buffer
	// read and write is an exact multiple of this.
	BlockSize = 128

	// DefaultBufferFrames is the default ring buffer capacity request in
	// frames, about 185 ms at 44.1 kHz. The ring rounds it up to the next
	// BlockSize multiple.
	DefaultBufferFrames = 8192

	// SampleDepth is bytes per sample in the decoder feed (16-bit PCM).
	SampleDepth = 2
)
