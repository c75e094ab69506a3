package source

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/skypro1111/flux-loadgen/internal/audio"
	"github.com/skypro1111/flux-loadgen/internal/fanout"
)

func writeWAV(t *testing.T, pcmLen, sampleRate int) string {
	t.Helper()

	pcm := make([]byte, pcmLen)
	for i := range pcm {
		pcm[i] = byte(i)
	}
	wav, err := audio.EncodeWAV(pcm, sampleRate, 1)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}

	path := filepath.Join(t.TempDir(), "test.wav")
	if err := os.WriteFile(path, wav, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestFileSourceFastMode(t *testing.T) {
	// 2 seconds at 16kHz mono: 20 chunks of 100ms.
	path := writeWAV(t, 64000, 16000)

	src, err := NewFileSource(path, 100*time.Millisecond, true)
	if err != nil {
		t.Fatalf("NewFileSource: %v", err)
	}
	defer src.Close()

	if src.Info().SampleRate != 16000 {
		t.Errorf("sample rate = %d, want 16000", src.Info().SampleRate)
	}

	ctx := context.Background()
	start := time.Now()
	total := 0
	chunks := 0
	for {
		chunk, err := src.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if len(chunk) != 3200 {
			t.Errorf("chunk %d length = %d, want 3200", chunks, len(chunk))
		}
		total += len(chunk)
		chunks++
	}

	if chunks != 20 {
		t.Errorf("got %d chunks, want 20", chunks)
	}
	if total != 64000 {
		t.Errorf("got %d bytes, want 64000", total)
	}
	// Fast mode must not replay in real time.
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("fast replay took %v", elapsed)
	}
}

func TestFileSourcePacing(t *testing.T) {
	// 300ms of audio in 100ms chunks.
	path := writeWAV(t, 4800, 8000)

	src, err := NewFileSource(path, 100*time.Millisecond, false)
	if err != nil {
		t.Fatalf("NewFileSource: %v", err)
	}
	defer src.Close()

	ctx := context.Background()
	start := time.Now()
	chunks := 0
	for {
		_, err := src.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		chunks++
	}

	if chunks != 3 {
		t.Fatalf("got %d chunks, want 3", chunks)
	}
	// The limiter admits one chunk immediately, then one per 100ms.
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Errorf("paced replay finished in %v, expected ~200ms", elapsed)
	}
}

func TestFileSourceMissingFile(t *testing.T) {
	_, err := NewFileSource(filepath.Join(t.TempDir(), "nope.wav"), 100*time.Millisecond, true)
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestReaderSource(t *testing.T) {
	data := make([]byte, 10)
	for i := range data {
		data[i] = byte(i)
	}

	src := NewReaderSource(bytes.NewReader(data), 4)
	ctx := context.Background()

	var got []byte
	lens := []int{}
	for {
		chunk, err := src.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		got = append(got, chunk...)
		lens = append(lens, len(chunk))
	}

	if !bytes.Equal(got, data) {
		t.Error("reader output does not match input")
	}
	if len(lens) != 3 || lens[0] != 4 || lens[1] != 4 || lens[2] != 2 {
		t.Errorf("chunk lengths = %v, want [4 4 2]", lens)
	}
}

func TestReaderSourceContextCancel(t *testing.T) {
	src := NewReaderSource(bytes.NewReader(make([]byte, 100)), 4)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := src.Next(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Next = %v, want context.Canceled", err)
	}
}

func TestReaderSourceCancelWhileBlocked(t *testing.T) {
	// A live reader with no data in flight, like an open but silent
	// stdin. Cancellation must unblock Next even mid-read.
	pr, pw := io.Pipe()
	defer pw.Close()

	src := NewReaderSource(pr, 4)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := src.Next(ctx)
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Next = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Next still blocked after cancel")
	}
}

func TestPumpCancelWithSilentReader(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	src := NewReaderSource(pr, 3200)
	ch := fanout.NewChannel(1000)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, _, err := Pump(ctx, src, ch)
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Pump = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Pump still blocked after cancel")
	}
}

func TestSyntheticSource(t *testing.T) {
	src := NewSyntheticSource(16000, 1, 100*time.Millisecond, 500*time.Millisecond, true)
	defer src.Close()

	ctx := context.Background()
	total := 0
	nonZero := false
	for {
		chunk, err := src.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		total += len(chunk)
		for _, b := range chunk {
			if b != 0 {
				nonZero = true
				break
			}
		}
	}

	if total != 16000 {
		t.Errorf("got %d bytes, want 16000 for 500ms at 16kHz", total)
	}
	if !nonZero {
		t.Error("synthetic tone produced only silence")
	}
}

func TestPump(t *testing.T) {
	path := writeWAV(t, 64000, 16000)
	src, err := NewFileSource(path, 100*time.Millisecond, true)
	if err != nil {
		t.Fatalf("NewFileSource: %v", err)
	}
	defer src.Close()

	ch := fanout.NewChannel(1000)
	sub := ch.Subscribe()

	frames, bytesOut, err := Pump(context.Background(), src, ch)
	if err != nil {
		t.Fatalf("Pump: %v", err)
	}
	if frames != 20 {
		t.Errorf("frames = %d, want 20", frames)
	}
	if bytesOut != 64000 {
		t.Errorf("bytes = %d, want 64000", bytesOut)
	}

	// The channel closes after the source drains; subscribers read
	// everything then see ErrClosed.
	ctx := context.Background()
	got := 0
	for {
		_, _, err := sub.Next(ctx)
		if errors.Is(err, fanout.ErrClosed) {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		got++
	}
	if got != 20 {
		t.Errorf("subscriber saw %d frames, want 20", got)
	}
}

func TestPumpContextCancel(t *testing.T) {
	path := writeWAV(t, 64000, 16000)
	src, err := NewFileSource(path, 100*time.Millisecond, false)
	if err != nil {
		t.Fatalf("NewFileSource: %v", err)
	}
	defer src.Close()

	ch := fanout.NewChannel(1000)
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(150 * time.Millisecond)
		cancel()
	}()

	_, _, err = Pump(ctx, src, ch)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Pump = %v, want context.Canceled", err)
	}

	// Pump closes the channel on the way out.
	sub := ch.Subscribe()
	if _, _, err := sub.Next(context.Background()); !errors.Is(err, fanout.ErrClosed) {
		t.Errorf("channel left open after cancelled pump")
	}
}
