package audio

import (
	"errors"
	"fmt"
	"slices"

	"github.com/asticode/go-astiav"
)

// ffmpegSession encodes through libavcodec and muxes through libavformat into an
// in-memory custom IO context.
type ffmpegSession struct {
	fc     *astiav.FormatContext
	cc     *astiav.CodecContext
	io     *astiav.IOContext
	stream *astiav.Stream
	pkt    *astiav.Packet

	sampleFormat astiav.SampleFormat
	frameSize    int
	sampleRate   int

	pending    []byte
	pendingPTS int64
	out        []byte
	closed     bool
}

// OpenFFmpeg opens a container writer for cfg.Format with one mono stream.
func OpenFFmpeg(cfg SessionConfig) (Session, error) {
	if !cfg.Format.Encoded() {
		return nil, fmt.Errorf("%w: format %s needs no encoder", ErrEncoding, cfg.Format)
	}
	s := &ffmpegSession{sampleRate: cfg.SampleRate}
	if err := s.open(cfg); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *ffmpegSession) open(cfg SessionConfig) error {
	codec := astiav.FindEncoderByName(cfg.Format.Codec())
	if codec == nil {
		return fmt.Errorf("%w: encoder %s not available", ErrEncoding, cfg.Format.Codec())
	}

	fc, err := astiav.AllocOutputFormatContext(nil, cfg.Format.Container(), "")
	if err != nil {
		return fmt.Errorf("%w: alloc %s muxer: %w", ErrEncoding, cfg.Format.Container(), err)
	}
	s.fc = fc

	s.cc = astiav.AllocCodecContext(codec)
	if s.cc == nil {
		return fmt.Errorf("%w: alloc codec context", ErrEncoding)
	}
	s.sampleFormat = pickSampleFormat(codec.SampleFormats())
	s.cc.SetSampleFormat(s.sampleFormat)
	s.cc.SetSampleRate(cfg.SampleRate)
	s.cc.SetChannelLayout(astiav.ChannelLayoutMono)
	s.cc.SetTimeBase(astiav.NewRational(1, cfg.SampleRate))
	if cfg.BitRate > 0 {
		s.cc.SetBitRate(int64(cfg.BitRate))
	}
	if fc.OutputFormat().Flags().Has(astiav.IOFormatFlagGlobalheader) {
		s.cc.SetFlags(s.cc.Flags().Add(astiav.CodecContextFlagGlobalHeader))
	}
	if err := s.cc.Open(codec, nil); err != nil {
		return fmt.Errorf("%w: open %s: %w", ErrEncoding, cfg.Format.Codec(), err)
	}
	s.frameSize = s.cc.FrameSize()

	s.stream = fc.NewStream(nil)
	if s.stream == nil {
		return fmt.Errorf("%w: add stream", ErrEncoding)
	}
	if err := s.stream.CodecParameters().FromCodecContext(s.cc); err != nil {
		return fmt.Errorf("%w: stream parameters: %w", ErrEncoding, err)
	}
	s.stream.SetTimeBase(s.cc.TimeBase())

	bufSize := cfg.BufferSize
	if bufSize <= 0 {
		bufSize = 4096
	}
	ioCtx, err := astiav.AllocIOContext(bufSize, true, nil, nil, func(b []byte) (int, error) {
		s.out = append(s.out, b...)
		return len(b), nil
	})
	if err != nil {
		return fmt.Errorf("%w: alloc io context: %w", ErrEncoding, err)
	}
	s.io = ioCtx
	fc.SetPb(ioCtx)

	if err := fc.WriteHeader(nil); err != nil {
		return fmt.Errorf("%w: write header: %w", ErrEncoding, err)
	}
	s.pkt = astiav.AllocPacket()
	return nil
}

// pickSampleFormat prefers packed s16. For mono input planar s16 has the same layout.
func pickSampleFormat(supported []astiav.SampleFormat) astiav.SampleFormat {
	if len(supported) == 0 || slices.Contains(supported, astiav.SampleFormatS16) {
		return astiav.SampleFormatS16
	}
	if slices.Contains(supported, astiav.SampleFormatS16P) {
		return astiav.SampleFormatS16P
	}
	return astiav.SampleFormatS16
}

func (s *ffmpegSession) WriteFrame(f Frame) ([][]byte, error) {
	if s.closed {
		return nil, fmt.Errorf("%w: session closed", ErrEncoding)
	}
	if len(s.pending) == 0 {
		s.pendingPTS = f.PTS
	}
	s.pending = append(s.pending, f.PCM...)

	var chunks [][]byte
	for {
		n := s.nextFrameSamples(false)
		if n == 0 {
			break
		}
		out, err := s.encodePending(n)
		if err != nil {
			return chunks, err
		}
		chunks = append(chunks, out...)
	}
	return chunks, nil
}

// nextFrameSamples returns how many pending samples form the next codec frame, or 0 when
// more input is needed. Encoders with a variable frame size take everything at once.
func (s *ffmpegSession) nextFrameSamples(final bool) int {
	avail := len(s.pending) / 2
	if avail == 0 {
		return 0
	}
	if s.frameSize <= 0 {
		return avail
	}
	if avail >= s.frameSize || final {
		return min(avail, s.frameSize)
	}
	return 0
}

func (s *ffmpegSession) encodePending(n int) ([][]byte, error) {
	frameSamples := n
	if s.frameSize > 0 {
		frameSamples = s.frameSize
	}
	data := make([]byte, frameSamples*2)
	copy(data, s.pending[:n*2])
	s.pending = s.pending[n*2:]

	frame := astiav.AllocFrame()
	defer frame.Free()
	frame.SetNbSamples(frameSamples)
	frame.SetSampleFormat(s.sampleFormat)
	frame.SetChannelLayout(astiav.ChannelLayoutMono)
	frame.SetSampleRate(s.sampleRate)
	frame.SetPts(s.pendingPTS)
	if err := frame.AllocBuffer(0); err != nil {
		return nil, fmt.Errorf("%w: alloc frame: %w", ErrEncoding, err)
	}
	if err := frame.Data().SetBytes(data, 0); err != nil {
		return nil, fmt.Errorf("%w: fill frame: %w", ErrEncoding, err)
	}
	s.pendingPTS += int64(n)

	if err := s.cc.SendFrame(frame); err != nil {
		return nil, fmt.Errorf("%w: send frame: %w", ErrEncoding, err)
	}
	return s.drainPackets()
}

func (s *ffmpegSession) drainPackets() ([][]byte, error) {
	var chunks [][]byte
	for {
		if err := s.cc.ReceivePacket(s.pkt); err != nil {
			if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
				return chunks, nil
			}
			return chunks, fmt.Errorf("%w: receive packet: %w", ErrEncoding, err)
		}
		s.pkt.RescaleTs(s.cc.TimeBase(), s.stream.TimeBase())
		s.pkt.SetStreamIndex(s.stream.Index())
		err := s.fc.WriteInterleavedFrame(s.pkt)
		s.pkt.Unref()
		if err != nil {
			return chunks, fmt.Errorf("%w: mux packet: %w", ErrEncoding, err)
		}
		if b := s.take(); len(b) > 0 {
			chunks = append(chunks, b)
		}
	}
}

func (s *ffmpegSession) take() []byte {
	s.io.Flush()
	if len(s.out) == 0 {
		return nil
	}
	b := s.out
	s.out = nil
	return b
}

func (s *ffmpegSession) Flush() ([][]byte, error) {
	if s.closed {
		return nil, fmt.Errorf("%w: session closed", ErrEncoding)
	}
	var chunks [][]byte
	for {
		n := s.nextFrameSamples(true)
		if n == 0 {
			break
		}
		out, err := s.encodePending(n)
		chunks = append(chunks, out...)
		if err != nil {
			return chunks, err
		}
	}

	if err := s.cc.SendFrame(nil); err != nil && !errors.Is(err, astiav.ErrEof) {
		return chunks, fmt.Errorf("%w: flush encoder: %w", ErrEncoding, err)
	}
	out, err := s.drainPackets()
	chunks = append(chunks, out...)
	if err != nil {
		return chunks, err
	}
	if err := s.fc.WriteTrailer(); err != nil {
		return chunks, fmt.Errorf("%w: write trailer: %w", ErrEncoding, err)
	}
	if b := s.take(); len(b) > 0 {
		chunks = append(chunks, b)
	}
	return chunks, nil
}

func (s *ffmpegSession) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.pkt != nil {
		s.pkt.Free()
	}
	if s.cc != nil {
		s.cc.Free()
	}
	if s.fc != nil {
		s.fc.Free()
	}
	if s.io != nil {
		s.io.Free()
	}
	return nil
}
