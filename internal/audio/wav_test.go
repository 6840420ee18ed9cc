package audio

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

func sine(freq float64, amplitude float64, seconds float64, rate int) []int16 {
	n := int(seconds * float64(rate))
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(amplitude * 32767 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return samples
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := sine(440, 0.5, 0.5, 16000)
	data := EncodeWAV(in, 16000)

	info, err := Info(data)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.SampleRate != 16000 || info.Channels != 1 || info.BitsPerSample != 16 {
		t.Fatalf("info: %+v", info)
	}
	if math.Abs(info.Duration-0.5) > 0.001 {
		t.Fatalf("duration: %v", info.Duration)
	}

	out, rate, err := Samples(data)
	if err != nil {
		t.Fatalf("samples: %v", err)
	}
	if rate != 16000 {
		t.Fatalf("rate: %d", rate)
	}
	if len(out) != len(in) {
		t.Fatalf("length: %d vs %d", len(out), len(in))
	}
	for i := range in {
		if in[i] != out[i] {
			t.Fatalf("sample %d: %d vs %d", i, in[i], out[i])
		}
	}
}

func TestInfoSkipsForeignChunks(t *testing.T) {
	// ffmpeg inserts a LIST chunk between fmt and data.
	base := EncodeWAV(sine(200, 0.3, 0.1, 16000), 16000)
	list := append([]byte("LIST"), binary.LittleEndian.AppendUint32(nil, 4)...)
	list = append(list, "INFO"...)

	data := append([]byte{}, base[:36]...) // up to end of fmt chunk
	data = append(data, list...)
	data = append(data, base[36:]...) // data chunk
	binary.LittleEndian.PutUint32(data[4:8], uint32(len(data)-8))

	info, err := Info(data)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if math.Abs(info.Duration-0.1) > 0.001 {
		t.Fatalf("duration: %v", info.Duration)
	}
}

func TestInfoRejectsGarbage(t *testing.T) {
	if _, err := Info([]byte("definitely not a wav file")); !errors.Is(err, ErrFormat) {
		t.Fatalf("want ErrFormat, got %v", err)
	}
	if _, err := Info(nil); !errors.Is(err, ErrFormat) {
		t.Fatalf("want ErrFormat, got %v", err)
	}
}

func TestInfoRejectsNonPCM(t *testing.T) {
	data := EncodeWAV(sine(200, 0.3, 0.1, 16000), 16000)
	binary.LittleEndian.PutUint16(data[20:22], 3) // IEEE float
	if _, err := Info(data); !errors.Is(err, ErrFormat) {
		t.Fatalf("want ErrFormat, got %v", err)
	}
}

func TestRMS(t *testing.T) {
	if got := RMS(nil); got != 0 {
		t.Fatalf("empty: %v", got)
	}
	loud := RMS(sine(440, 0.8, 0.1, 16000))
	quiet := RMS(sine(440, 0.05, 0.1, 16000))
	if loud <= quiet {
		t.Fatalf("loud %v should exceed quiet %v", loud, quiet)
	}
	// A full-scale sine has RMS near 1/sqrt(2).
	full := RMS(sine(440, 1.0, 0.1, 16000))
	if math.Abs(full-1/math.Sqrt2) > 0.01 {
		t.Fatalf("full-scale rms: %v", full)
	}
}

func TestNoiseFloorAndHasSpeech(t *testing.T) {
	rate := 16000
	// 100 ms of near-silence followed by 400 ms of tone.
	samples := sine(440, 0.002, 0.1, rate)
	samples = append(samples, sine(440, 0.5, 0.4, rate)...)

	calib := rate / 10
	floor := NoiseFloor(samples, calib)
	if !HasSpeech(samples[calib:], floor, 3) {
		t.Fatal("tone after calibration should count as speech")
	}

	silence := sine(440, 0.002, 0.5, rate)
	floor = NoiseFloor(silence, calib)
	if HasSpeech(silence[calib:], floor, 3) {
		t.Fatal("steady noise floor should not count as speech")
	}
}

func TestNoiseFloorMinimum(t *testing.T) {
	if floor := NoiseFloor(make([]int16, 1600), 1600); floor < 0.001 {
		t.Fatalf("floor below minimum: %v", floor)
	}
}
