// Package codec converts between base64 text, raw bytes and PCM sample arrays.
package codec

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/satriahrh/parley/domain/entities"
)

// EncodeBase64 encodes bytes with the standard padded alphabet
func EncodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeBase64 decodes standard padded base64
func DecodeBase64(s string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, entities.NewCodecError("malformed base64 payload", err)
	}
	return data, nil
}

// PCM16ToFloat32 converts little-endian signed 16-bit samples to floats in [-1, 1]
func PCM16ToFloat32(pcm []byte) ([]float32, error) {
	if len(pcm)%2 != 0 {
		return nil, entities.NewCodecError(fmt.Sprintf("pcm16 buffer has odd length %d", len(pcm)), nil)
	}
	samples := make([]float32, len(pcm)/2)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		samples[i] = float32(v) / 32768
	}
	return samples, nil
}

// Float32ToPCM16 converts float samples to little-endian signed 16-bit PCM.
// Values outside [-1, 1] are clipped.
func Float32ToPCM16(samples []float32) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		var v int16
		if s < 0 {
			v = int16(math.Round(float64(s) * 32768))
		} else {
			v = int16(math.Round(float64(s) * 32767))
		}
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}
	return pcm
}

// Float32FromBytes reinterprets little-endian IEEE-754 bytes as float samples
func Float32FromBytes(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, entities.NewCodecError(fmt.Sprintf("float32 buffer length %d is not a multiple of 4", len(data)), nil)
	}
	samples := make([]float32, len(data)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return samples, nil
}

// SamplesToDuration converts a sample count to wall time
func SamplesToDuration(samples, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// RMS returns the root mean square level of PCM16 audio in [0, 1]
func RMS(pcm []byte) (float64, error) {
	samples, err := PCM16ToFloat32(pcm)
	if err != nil {
		return 0, err
	}
	if len(samples) == 0 {
		return 0, nil
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples))), nil
}
