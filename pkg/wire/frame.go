package wire

// AudioDataFormat describes how multi-channel samples are laid out in an
// [AudioFrame] buffer.
type AudioDataFormat int

const (
	AudioFormatInterleave AudioDataFormat = iota + 1
	AudioFormatNonInterleave
)

// Property keys for the utterance group an audio or text frame belongs to.
const (
	PropGroupTimestamp = "group_timestamp"
	PropGroupID        = "group_id"
)

// AudioFrame carries PCM audio. Buf holds little-endian signed samples of
// BitsPerSample bits.
type AudioFrame struct {
	Header
	FrameTimestamp    int64
	SampleRate        int
	BitsPerSample     int
	SamplesPerChannel int
	ChannelCount      int
	ChannelLayout     uint64
	DataFormat        AudioDataFormat
	Buf               []byte
	LineSize          int
	IsEOF             bool
}

// NewAudioFrame returns a 16-bit interleaved PCM frame for pcm.
func NewAudioFrame(name string, pcm []byte, sampleRate, channels int) *AudioFrame {
	if channels <= 0 {
		channels = 1
	}
	return &AudioFrame{
		Header:            Header{Type: TypeAudioFrame, Name: name},
		SampleRate:        sampleRate,
		BitsPerSample:     16,
		SamplesPerChannel: len(pcm) / (2 * channels),
		ChannelCount:      channels,
		DataFormat:        AudioFormatInterleave,
		Buf:               pcm,
		LineSize:          len(pcm),
	}
}

// GroupTimestamp returns the utterance group timestamp, if present.
func (f *AudioFrame) GroupTimestamp() (int64, bool) {
	return f.IntProperty(PropGroupTimestamp)
}

// GroupID returns the utterance group id, or "" if absent.
func (f *AudioFrame) GroupID() string {
	return f.StringProperty(PropGroupID)
}

// SetGroup stamps the frame with an utterance group key.
func (f *AudioFrame) SetGroup(ts int64, id string) {
	f.SetProperty(PropGroupTimestamp, ts)
	if id != "" {
		f.SetProperty(PropGroupID, id)
	}
}

// PixelFormat identifies the pixel layout of a [VideoFrame].
type PixelFormat int

const (
	PixelFormatRGB24 PixelFormat = iota + 1
	PixelFormatRGBA
	PixelFormatBGR24
	PixelFormatBGRA
	PixelFormatI420
	PixelFormatNV21
	PixelFormatNV12
)

// VideoFrame carries one raw video frame.
type VideoFrame struct {
	Header
	PixelFormat    PixelFormat
	FrameTimestamp int64
	Width          int
	Height         int
	IsEOF          bool
	Data           []byte
}
