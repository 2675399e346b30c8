package audio

import (
	"bytes"
	"encoding/binary"
	"os"
	"testing"
)

func tone(values ...int16) []byte {
	out := make([]byte, len(values)*2)
	for i, v := range values {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

func TestWAVFileRoundTrip(t *testing.T) {
	in := PCM{Data: tone(0, 1000, -1000, 32767, -32768, 12), SampleRate: 16000, Channels: 1}
	path, err := WriteWAVFile(in, "audio_test_*.wav")
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	defer os.Remove(path)

	out, err := ReadWAVFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if out.SampleRate != 16000 || out.Channels != 1 {
		t.Fatalf("unexpected format %d x %d", out.SampleRate, out.Channels)
	}
	if !bytes.Equal(out.Data, in.Data) {
		t.Fatalf("samples differ: %v vs %v", out.Data, in.Data)
	}
}

func TestEncodeWAVHasRIFFHeader(t *testing.T) {
	data, err := EncodeWAV(PCM{Data: tone(1, 2, 3, 4), SampleRate: 22050, Channels: 1})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(data) < 44 || string(data[:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Fatalf("expected RIFF/WAVE header, got %q", data[:12])
	}
}

func TestWriteWAVRejectsOddLength(t *testing.T) {
	if _, err := EncodeWAV(PCM{Data: []byte{1, 2, 3}, SampleRate: 16000, Channels: 1}); err == nil {
		t.Fatal("expected alignment error")
	}
}

func TestRMS(t *testing.T) {
	if got := RMS(nil); got != 0 {
		t.Fatalf("expected 0 for silence, got %v", got)
	}
	if got := RMS(tone(100, -100, 100, -100)); got != 100 {
		t.Fatalf("expected 100, got %v", got)
	}
}
