// Package audio provides WAV inspection and normalization helpers for the
// speech path. The canonical waveform format is mono 16-bit PCM at 16 kHz.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrFormat means the data is not a PCM WAV file this service understands.
var ErrFormat = errors.New("unsupported audio format")

// WAVInfo describes a decoded WAV header.
type WAVInfo struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	DataSize      int
	Duration      float64 // seconds
}

// Info parses a WAV header. It walks RIFF chunks rather than assuming
// fixed offsets; ffmpeg emits a LIST metadata chunk between fmt and data.
func Info(data []byte) (*WAVInfo, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("%w: missing RIFF/WAVE header", ErrFormat)
	}

	var info WAVInfo
	var haveFmt, haveData bool
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if size < 0 || body > len(data) {
			return nil, fmt.Errorf("%w: truncated chunk %q", ErrFormat, id)
		}
		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(data) {
				return nil, fmt.Errorf("%w: short fmt chunk", ErrFormat)
			}
			if audioFormat := binary.LittleEndian.Uint16(data[body : body+2]); audioFormat != 1 {
				return nil, fmt.Errorf("%w: non-PCM encoding %d", ErrFormat, audioFormat)
			}
			info.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			haveFmt = true
		case "data":
			if body+size > len(data) {
				size = len(data) - body // tolerate a truncated final chunk
			}
			info.DataSize = size
			haveData = true
		}
		if haveFmt && haveData {
			break
		}
		// Chunks are word aligned.
		pos = body + size + size%2
	}
	if !haveFmt || !haveData {
		return nil, fmt.Errorf("%w: missing fmt or data chunk", ErrFormat)
	}
	if info.SampleRate <= 0 || info.Channels <= 0 || info.BitsPerSample <= 0 {
		return nil, fmt.Errorf("%w: invalid fmt values", ErrFormat)
	}
	bytesPerSample := info.BitsPerSample / 8 * info.Channels
	if bytesPerSample > 0 {
		info.Duration = float64(info.DataSize/bytesPerSample) / float64(info.SampleRate)
	}
	return &info, nil
}

// Duration returns the audio duration in seconds.
func Duration(data []byte) (float64, error) {
	info, err := Info(data)
	if err != nil {
		return 0, err
	}
	return info.Duration, nil
}

// Samples decodes the payload of a mono 16-bit PCM WAV file and returns
// the samples along with the sample rate.
func Samples(data []byte) ([]int16, int, error) {
	info, err := Info(data)
	if err != nil {
		return nil, 0, err
	}
	if info.Channels != 1 || info.BitsPerSample != 16 {
		return nil, 0, fmt.Errorf("%w: want mono 16-bit, got %d ch %d bit", ErrFormat, info.Channels, info.BitsPerSample)
	}
	payload := findData(data)
	if payload == nil {
		return nil, 0, fmt.Errorf("%w: missing data chunk", ErrFormat)
	}
	n := len(payload) / 2
	samples := make([]int16, n)
	for i := 0; i < n; i++ {
		samples[i] = int16(binary.LittleEndian.Uint16(payload[2*i : 2*i+2]))
	}
	return samples, info.SampleRate, nil
}

func findData(data []byte) []byte {
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if id == "data" {
			if body+size > len(data) {
				size = len(data) - body
			}
			return data[body : body+size]
		}
		pos = body + size + size%2
	}
	return nil
}

// EncodeWAV writes mono 16-bit PCM samples as a minimal WAV file.
func EncodeWAV(samples []int16, sampleRate int) []byte {
	dataSize := len(samples) * 2
	buf := make([]byte, 0, 44+dataSize)

	buf = append(buf, "RIFF"...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(36+dataSize))
	buf = append(buf, "WAVE"...)

	buf = append(buf, "fmt "...)
	buf = binary.LittleEndian.AppendUint32(buf, 16)
	buf = binary.LittleEndian.AppendUint16(buf, 1) // PCM
	buf = binary.LittleEndian.AppendUint16(buf, 1) // mono
	buf = binary.LittleEndian.AppendUint32(buf, uint32(sampleRate))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(sampleRate*2))
	buf = binary.LittleEndian.AppendUint16(buf, 2)
	buf = binary.LittleEndian.AppendUint16(buf, 16)

	buf = append(buf, "data"...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(dataSize))
	for _, s := range samples {
		buf = binary.LittleEndian.AppendUint16(buf, uint16(s))
	}
	return buf
}
