// Package audio holds the 16-bit PCM and WAV helpers shared by the capture
// and synthesis backends.
package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// PCM is little-endian signed 16-bit audio.
type PCM struct {
	Data       []byte
	SampleRate int
	Channels   int
}

// WriteWAV encodes pcm as a 16-bit WAV stream.
func WriteWAV(w io.WriteSeeker, p PCM) error {
	if len(p.Data)%2 != 0 {
		return fmt.Errorf("pcm payload not aligned")
	}
	if p.SampleRate <= 0 || p.Channels <= 0 {
		return fmt.Errorf("invalid pcm format %d Hz x %d", p.SampleRate, p.Channels)
	}
	buffer := &goaudio.IntBuffer{
		Format: &goaudio.Format{NumChannels: p.Channels, SampleRate: p.SampleRate},
		Data:   samples(p.Data),
	}
	enc := wav.NewEncoder(w, p.SampleRate, 16, p.Channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

// WriteWAVFile writes pcm to a new temporary WAV file and returns its path.
// The caller removes the file.
func WriteWAVFile(p PCM, pattern string) (string, error) {
	file, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", fmt.Errorf("temp file: %w", err)
	}
	defer file.Close()
	if err := WriteWAV(file, p); err != nil {
		os.Remove(file.Name())
		return "", err
	}
	return file.Name(), nil
}

// EncodeWAV returns pcm as a complete WAV file.
func EncodeWAV(p PCM) ([]byte, error) {
	path, err := WriteWAVFile(p, "medic_clip_*.wav")
	if err != nil {
		return nil, err
	}
	defer os.Remove(path)
	return os.ReadFile(path)
}

// ReadWAV decodes a 16-bit WAV stream.
func ReadWAV(r io.ReadSeeker) (PCM, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return PCM{}, fmt.Errorf("invalid wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return PCM{}, fmt.Errorf("decode wav: %w", err)
	}
	if dec.BitDepth != 16 {
		return PCM{}, fmt.Errorf("unsupported wav bit depth %d", dec.BitDepth)
	}
	data := make([]byte, len(buf.Data)*2)
	for i, s := range buf.Data {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(int16(s)))
	}
	return PCM{Data: data, SampleRate: int(dec.SampleRate), Channels: int(dec.NumChans)}, nil
}

// ReadWAVFile decodes the WAV file at path.
func ReadWAVFile(path string) (PCM, error) {
	f, err := os.Open(path)
	if err != nil {
		return PCM{}, err
	}
	defer f.Close()
	return ReadWAV(f)
}

// RMS is the root-mean-square amplitude of the samples in data.
func RMS(data []byte) float64 {
	n := len(data) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(data[i*2:])))
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

func samples(data []byte) []int {
	out := make([]int, len(data)/2)
	for i := range out {
		out[i] = int(int16(binary.LittleEndian.Uint16(data[i*2:])))
	}
	return out
}
