package codec

import (
	"bytes"
	"encoding/binary"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/satriahrh/parley/domain/entities"
)

func TestBase64RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for size := 0; size < 64; size++ {
		data := make([]byte, size)
		rng.Read(data)

		decoded, err := DecodeBase64(EncodeBase64(data))
		if err != nil {
			t.Fatalf("size %d: unexpected error: %v", size, err)
		}
		if !bytes.Equal(decoded, data) {
			t.Errorf("size %d: round trip mismatch", size)
		}
	}
}

func TestDecodeBase64Malformed(t *testing.T) {
	_, err := DecodeBase64("not base64!!")
	if !entities.IsCategory(err, entities.CategoryCodec) {
		t.Errorf("Expected codec error, got %v", err)
	}
}

func TestPCM16RoundTripWithinOneLSB(t *testing.T) {
	values := []int16{0, 1, -1, 100, -100, 16384, -16384, 32767, -32768}
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 1000; i++ {
		values = append(values, int16(rng.Intn(65536)-32768))
	}

	pcm := make([]byte, len(values)*2)
	for i, v := range values {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}

	samples, err := PCM16ToFloat32(pcm)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, s := range samples {
		if s < -1 || s > 1 {
			t.Fatalf("sample %f out of range", s)
		}
	}

	back := Float32ToPCM16(samples)
	for i, want := range values {
		got := int16(binary.LittleEndian.Uint16(back[i*2:]))
		diff := int(got) - int(want)
		if diff < -1 || diff > 1 {
			t.Errorf("sample %d: want %d got %d", i, want, got)
		}
	}
}

func TestPCM16OddLength(t *testing.T) {
	_, err := PCM16ToFloat32([]byte{1, 2, 3})
	if !entities.IsCategory(err, entities.CategoryCodec) {
		t.Errorf("Expected codec error, got %v", err)
	}
}

func TestFloat32ToPCM16Clips(t *testing.T) {
	pcm := Float32ToPCM16([]float32{2, -2})
	if got := int16(binary.LittleEndian.Uint16(pcm[0:])); got != 32767 {
		t.Errorf("Expected 32767, got %d", got)
	}
	if got := int16(binary.LittleEndian.Uint16(pcm[2:])); got != -32768 {
		t.Errorf("Expected -32768, got %d", got)
	}
}

func TestFloat32FromBytes(t *testing.T) {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint32(data[0:], 0x3f000000) // 0.5
	binary.LittleEndian.PutUint32(data[4:], 0xbf800000) // -1
	samples, err := Float32FromBytes(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if samples[0] != 0.5 || samples[1] != -1 {
		t.Errorf("unexpected samples %v", samples)
	}

	if _, err := Float32FromBytes(data[:5]); err == nil {
		t.Error("Expected error for truncated buffer")
	}
}

func TestSamplesToDuration(t *testing.T) {
	if got := SamplesToDuration(7680, 24000); got != 320*time.Millisecond {
		t.Errorf("Expected 320ms, got %v", got)
	}
	if got := SamplesToDuration(100, 0); got != 0 {
		t.Errorf("Expected 0 for invalid rate, got %v", got)
	}
}

func TestRMS(t *testing.T) {
	silence, err := RMS(make([]byte, 320))
	if err != nil || silence != 0 {
		t.Errorf("Expected silent RMS 0, got %v (%v)", silence, err)
	}

	loud := Float32ToPCM16([]float32{0.5, -0.5, 0.5, -0.5})
	level, err := RMS(loud)
	if err != nil {
		t.Fatalf("RMS failed: %v", err)
	}
	if math.Abs(level-0.5) > 0.001 {
		t.Errorf("Expected RMS near 0.5, got %v", level)
	}

	if _, err := RMS([]byte{1}); err == nil {
		t.Error("Expected odd-length buffer to be rejected")
	}
}
