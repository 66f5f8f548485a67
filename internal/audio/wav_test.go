package audio

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/go-audio/wav"
)

func payloadSamples(t *testing.T, data []byte) []int16 {
	t.Helper()
	if len(data) < WAVHeaderSize {
		t.Fatalf("WAV data too short: %d bytes", len(data))
	}
	payload := data[WAVHeaderSize:]
	samples := make([]int16, len(payload)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(payload[i*2:]))
	}
	return samples
}

func TestEncodeWAVHeader(t *testing.T) {
	samples := []float32{0, 0.5, -1.0}
	data := EncodeWAV(samples, 8000)

	if len(data) != 44+6 {
		t.Fatalf("Expected WAV size 50, got %d", len(data))
	}

	le := binary.LittleEndian
	checks := []struct {
		name string
		got  uint32
		want uint32
	}{
		{"chunk size", le.Uint32(data[4:8]), 42},
		{"fmt chunk size", le.Uint32(data[16:20]), 16},
		{"audio format", uint32(le.Uint16(data[20:22])), 1},
		{"channels", uint32(le.Uint16(data[22:24])), 1},
		{"sample rate", le.Uint32(data[24:28]), 8000},
		{"byte rate", le.Uint32(data[28:32]), 16000},
		{"block align", uint32(le.Uint16(data[32:34])), 2},
		{"bits per sample", uint32(le.Uint16(data[34:36])), 16},
		{"data size", le.Uint32(data[40:44]), 6},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s: expected %d, got %d", c.name, c.want, c.got)
		}
	}

	for offset, tag := range map[int]string{0: "RIFF", 8: "WAVE", 12: "fmt ", 36: "data"} {
		if got := string(data[offset : offset+4]); got != tag {
			t.Errorf("Expected %q at offset %d, got %q", tag, offset, got)
		}
	}

	want := []int16{0, 16383, -32768}
	got := payloadSamples(t, data)
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Sample %d: expected %d, got %d", i, want[i], got[i])
		}
	}
}

func TestEncodeWAVSizes(t *testing.T) {
	for _, n := range []int{0, 1, 7, 4096, 4096*3 + 5} {
		samples := make([]float32, n)
		data := EncodeWAV(samples, 16000)

		if len(data) != WAVHeaderSize+2*n {
			t.Errorf("n=%d: expected %d bytes, got %d", n, WAVHeaderSize+2*n, len(data))
		}
		if got := binary.LittleEndian.Uint32(data[40:44]); got != uint32(2*n) {
			t.Errorf("n=%d: expected data size %d, got %d", n, 2*n, got)
		}
		if got := binary.LittleEndian.Uint32(data[4:8]); got != uint32(36+2*n) {
			t.Errorf("n=%d: expected chunk size %d, got %d", n, 36+2*n, got)
		}
	}
}

func TestFloatToPCM16(t *testing.T) {
	tests := []struct {
		name  string
		input float32
		want  int16
	}{
		{"zero", 0, 0},
		{"full positive", 1, 32767},
		{"full negative", -1, -32768},
		{"half truncates", 0.5, 16383},
		{"negative half", -0.5, -16384},
		{"above range clamps", 1.7, 32767},
		{"below range clamps", -3, -32768},
		{"positive infinity", float32(math.Inf(1)), 32767},
		{"negative infinity", float32(math.Inf(-1)), -32768},
		{"nan", float32(math.NaN()), 0},
		{"small negative truncates toward zero", -0.00001, 0},
		{"small positive truncates toward zero", 0.00003, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FloatToPCM16(tt.input); got != tt.want {
				t.Errorf("FloatToPCM16(%v) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestEncodeWAVDeterministic(t *testing.T) {
	samples := make([]float32, 1600)
	for i := range samples {
		samples[i] = float32(math.Sin(2 * math.Pi * 440 * float64(i) / 16000))
	}

	a := EncodeWAV(samples, 16000)
	b := EncodeWAV(samples, 16000)
	if !bytes.Equal(a, b) {
		t.Error("Expected identical output for identical input")
	}
}

func TestDecodeWAVRoundTrip(t *testing.T) {
	original := []float32{0.1, -0.2, 0.3, -0.4, 0.5}
	data := EncodeWAV(original, 16000)

	decoded, sampleRate, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}

	if sampleRate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", sampleRate)
	}

	if len(decoded) != len(original) {
		t.Fatalf("Expected %d samples, got %d", len(original), len(decoded))
	}

	for i, s := range original {
		if decoded[i] != FloatToPCM16(s) {
			t.Errorf("Sample %d: expected %d, got %d", i, FloatToPCM16(s), decoded[i])
		}
	}
}

func TestDecodeWAVEmptyPayload(t *testing.T) {
	decoded, sampleRate, err := DecodeWAV(EncodeWAV(nil, 16000))
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if len(decoded) != 0 || sampleRate != 16000 {
		t.Errorf("Expected 0 samples at 16000 Hz, got %d at %d", len(decoded), sampleRate)
	}
}

func TestDecodeWAVTruncated(t *testing.T) {
	data := EncodeWAV([]float32{0.1, 0.2, 0.3}, 16000)
	if _, _, err := DecodeWAV(data[:len(data)-2]); err == nil {
		t.Error("Expected error for truncated payload")
	}
}

func TestEncodeWAVReadableByGoAudio(t *testing.T) {
	samples := []float32{0, 0.25, -0.25, 0.999, -0.999, 2, -2}
	data := EncodeWAV(samples, 16000)

	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		t.Fatal("go-audio decoder rejected the container")
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("FullPCMBuffer failed: %v", err)
	}

	if dec.SampleRate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", dec.SampleRate)
	}
	if dec.NumChans != 1 {
		t.Errorf("Expected 1 channel, got %d", dec.NumChans)
	}
	if dec.BitDepth != 16 {
		t.Errorf("Expected 16 bits, got %d", dec.BitDepth)
	}

	if len(buf.Data) != len(samples) {
		t.Fatalf("Expected %d samples, got %d", len(samples), len(buf.Data))
	}
	for i, s := range samples {
		if buf.Data[i] != int(FloatToPCM16(s)) {
			t.Errorf("Sample %d: expected %d, got %d", i, FloatToPCM16(s), buf.Data[i])
		}
	}
}

func TestValidateWAV(t *testing.T) {
	if err := ValidateWAV([]byte{1, 2, 3}); err == nil {
		t.Error("Expected error for too short WAV data")
	}

	invalidWAV := make([]byte, 50)
	copy(invalidWAV[0:4], []byte("FAKE"))
	if err := ValidateWAV(invalidWAV); err == nil {
		t.Error("Expected error for invalid RIFF header")
	}

	if err := ValidateWAV(EncodeWAV([]float32{0}, 16000)); err != nil {
		t.Errorf("Expected valid WAV, got %v", err)
	}
}

func TestGetWAVDuration(t *testing.T) {
	samples := make([]float32, 16000)
	data := EncodeWAV(samples, 16000)

	duration, err := GetWAVDuration(data)
	if err != nil {
		t.Fatalf("GetWAVDuration failed: %v", err)
	}

	if math.Abs(duration-1.0) > 0.001 {
		t.Errorf("Expected duration 1.000, got %.3f", duration)
	}
}

func TestGetWAVInfo(t *testing.T) {
	data := EncodeWAV(make([]float32, 8000), 16000)

	info, err := GetWAVInfo(data)
	if err != nil {
		t.Fatalf("GetWAVInfo failed: %v", err)
	}

	if info.SampleRate != 16000 || info.Channels != 1 || info.BitsPerSample != 16 {
		t.Errorf("Unexpected format: %+v", info)
	}
	if info.NumSamples != 8000 || info.DataSize != 16000 {
		t.Errorf("Unexpected sizes: %+v", info)
	}
	if math.Abs(info.Duration-0.5) > 0.001 {
		t.Errorf("Expected duration 0.5, got %.3f", info.Duration)
	}
}

func TestPCMToFloat(t *testing.T) {
	got := PCMToFloat([]int16{0, -32768, 16384})
	want := []float32{0, -1, 0.5}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Sample %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}
