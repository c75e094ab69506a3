package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/skypro1111/flux-loadgen/internal/audio"
	"github.com/skypro1111/flux-loadgen/internal/fanout"
)

// Source yields successive PCM frames. Next returns io.EOF once the source
// is exhausted; live sources block until data arrives or ctx is done.
type Source interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// FileSource replays a WAV file as fixed-duration chunks. Unless fast mode
// is enabled, chunks are released at the audio's real-time rate so the
// service sees a realistic stream.
type FileSource struct {
	chunks  [][]byte
	idx     int
	limiter *rate.Limiter
	info    *audio.WAVInfo
}

// NewFileSource loads path and prepares it for replay in chunkDuration
// slices. With fast set, pacing is disabled and chunks are yielded as fast
// as the consumer asks for them.
func NewFileSource(path string, chunkDuration time.Duration, fast bool) (*FileSource, error) {
	pcm, info, err := audio.ReadWAVFile(path)
	if err != nil {
		return nil, err
	}

	chunkSize := audio.ChunkSize(info.SampleRate, info.Channels, chunkDuration)
	chunks, err := audio.Split(pcm, chunkSize)
	if err != nil {
		return nil, fmt.Errorf("failed to chunk %s: %w", path, err)
	}

	s := &FileSource{chunks: chunks, info: info}
	if !fast {
		s.limiter = rate.NewLimiter(rate.Every(chunkDuration), 1)
	}
	return s, nil
}

// Info returns the decoded file's format.
func (s *FileSource) Info() *audio.WAVInfo {
	return s.info
}

func (s *FileSource) Next(ctx context.Context) ([]byte, error) {
	if s.idx >= len(s.chunks) {
		return nil, io.EOF
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	chunk := s.chunks[s.idx]
	s.idx++
	return chunk, nil
}

func (s *FileSource) Close() error {
	s.chunks = nil
	return nil
}

// ReaderSource streams raw PCM from an io.Reader in fixed-size chunks. It is
// paced by the reader itself, which makes it suitable for live input such as
// stdin fed by a capture process.
type ReaderSource struct {
	r         io.Reader
	chunkSize int

	once    sync.Once
	chunks  chan []byte
	readErr error
}

// NewReaderSource wraps r, yielding chunkSize-byte frames.
func NewReaderSource(r io.Reader, chunkSize int) *ReaderSource {
	return &ReaderSource{r: r, chunkSize: chunkSize, chunks: make(chan []byte)}
}

// readLoop runs the blocking reads so Next stays cancellable. The reader
// itself cannot be interrupted, so the loop runs detached and exits when the
// reader errors or is closed. readErr is set before chunks is closed.
func (s *ReaderSource) readLoop() {
	defer close(s.chunks)
	for {
		buf := make([]byte, s.chunkSize)
		n, err := io.ReadFull(s.r, buf)
		if n > 0 {
			s.chunks <- buf[:n]
		}
		if err != nil {
			if err != io.EOF && err != io.ErrUnexpectedEOF {
				s.readErr = fmt.Errorf("failed to read audio input: %w", err)
			}
			return
		}
	}
}

func (s *ReaderSource) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.once.Do(func() { go s.readLoop() })

	select {
	case chunk, ok := <-s.chunks:
		if !ok {
			if s.readErr != nil {
				return nil, s.readErr
			}
			return nil, io.EOF
		}
		return chunk, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *ReaderSource) Close() error {
	if c, ok := s.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// SyntheticSource generates a 440Hz sine tone for a fixed total duration.
// It exists for smoke runs against a mock service when no recording is at
// hand.
type SyntheticSource struct {
	sampleRate int
	channels   int
	chunkSize  int
	remaining  int
	phase      float64
	limiter    *rate.Limiter
}

// NewSyntheticSource generates total seconds of tone in chunkDuration
// slices at the given format.
func NewSyntheticSource(sampleRate, channels int, chunkDuration, total time.Duration, fast bool) *SyntheticSource {
	bytesPerSecond := sampleRate * channels * 2
	s := &SyntheticSource{
		sampleRate: sampleRate,
		channels:   channels,
		chunkSize:  audio.ChunkSize(sampleRate, channels, chunkDuration),
		remaining:  int(int64(bytesPerSecond) * total.Nanoseconds() / int64(time.Second)),
	}
	if !fast {
		s.limiter = rate.NewLimiter(rate.Every(chunkDuration), 1)
	}
	return s
}

func (s *SyntheticSource) Next(ctx context.Context) ([]byte, error) {
	if s.remaining <= 0 {
		return nil, io.EOF
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	n := s.chunkSize
	if n > s.remaining {
		n = s.remaining
	}
	s.remaining -= n

	buf := make([]byte, n)
	step := 2 * math.Pi * 440 / float64(s.sampleRate)
	for i := 0; i+2*s.channels <= n; i += 2 * s.channels {
		sample := int16(math.Sin(s.phase) * 0.3 * math.MaxInt16)
		s.phase += step
		for ch := 0; ch < s.channels; ch++ {
			buf[i+2*ch] = byte(sample)
			buf[i+2*ch+1] = byte(sample >> 8)
		}
	}
	return buf, nil
}

func (s *SyntheticSource) Close() error {
	s.remaining = 0
	return nil
}

// Pump drains src into ch, closing ch when the source is exhausted. It
// returns the number of frames and bytes published. A ctx cancellation also
// closes ch so subscribers drain and exit.
func Pump(ctx context.Context, src Source, ch *fanout.Channel) (int, int64, error) {
	defer ch.Close()

	frames := 0
	var bytes int64
	for {
		chunk, err := src.Next(ctx)
		if err != nil {
			if err == io.EOF {
				return frames, bytes, nil
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return frames, bytes, err
			}
			return frames, bytes, fmt.Errorf("audio source failed: %w", err)
		}

		ch.Publish(chunk)
		frames++
		bytes += int64(len(chunk))
	}
}
