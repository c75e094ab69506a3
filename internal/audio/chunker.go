package audio

import (
	"fmt"
	"time"
)

// ChunkSize returns the number of PCM bytes covering chunkDuration of audio
// at the given format. The result is rounded down to a whole sample frame.
func ChunkSize(sampleRate, channels int, chunkDuration time.Duration) int {
	bytesPerSecond := sampleRate * channels * 2
	size := int(int64(bytesPerSecond) * chunkDuration.Nanoseconds() / int64(time.Second))

	frame := channels * 2
	if frame > 0 {
		size -= size % frame
	}
	if size < frame {
		size = frame
	}
	return size
}

// Duration returns the wall-clock playback time of n PCM bytes.
func Duration(n, sampleRate, channels int) time.Duration {
	bytesPerSecond := sampleRate * channels * 2
	if bytesPerSecond <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bytesPerSecond))
}

// Split divides a PCM payload into fixed-size chunks for replay. The final
// chunk may be shorter than chunkSize; an empty payload yields no chunks.
// Chunks alias pcm and must not be mutated by the caller.
func Split(pcm []byte, chunkSize int) ([][]byte, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}

	if len(pcm) == 0 {
		return nil, nil
	}

	chunks := make([][]byte, 0, (len(pcm)+chunkSize-1)/chunkSize)
	for off := 0; off < len(pcm); off += chunkSize {
		end := off + chunkSize
		if end > len(pcm) {
			end = len(pcm)
		}
		chunks = append(chunks, pcm[off:end])
	}
	return chunks, nil
}
