package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// WAVHeaderSize is the size of the canonical RIFF/WAVE header this package
// reads and writes: RIFF chunk descriptor, "fmt " sub-chunk and "data"
// sub-chunk header, with no extension chunks.
const WAVHeaderSize = 44

// WAVInfo describes the format of a decoded WAV payload.
type WAVInfo struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	DataSize      int // Size of the PCM data section in bytes
}

// EncodeWAV wraps raw PCM16 little-endian sample data in a canonical 44-byte
// RIFF/WAVE header.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	byteRate := sampleRate * channels * 2
	blockAlign := channels * 2

	out := make([]byte, WAVHeaderSize+len(pcm))
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16) // PCM fmt chunk size
	binary.LittleEndian.PutUint16(out[20:22], 1)  // audio format: linear PCM
	binary.LittleEndian.PutUint16(out[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:36], 16) // bits per sample
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(pcm)))
	copy(out[WAVHeaderSize:], pcm)

	return out
}

// DecodeWAVInfo parses the 44-byte RIFF/WAVE header of data and returns the
// format description. It rejects payloads that are not linear PCM or that are
// too short to carry a full header.
func DecodeWAVInfo(data []byte) (WAVInfo, error) {
	if len(data) < WAVHeaderSize {
		return WAVInfo{}, fmt.Errorf("wav payload too short: %d bytes", len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return WAVInfo{}, fmt.Errorf("not a RIFF/WAVE payload")
	}
	if string(data[12:16]) != "fmt " {
		return WAVInfo{}, fmt.Errorf("missing fmt chunk")
	}

	format := binary.LittleEndian.Uint16(data[20:22])
	if format != 1 {
		return WAVInfo{}, fmt.Errorf("unsupported audio format %d (want linear PCM)", format)
	}

	info := WAVInfo{
		Channels:      int(binary.LittleEndian.Uint16(data[22:24])),
		SampleRate:    int(binary.LittleEndian.Uint32(data[24:28])),
		BitsPerSample: int(binary.LittleEndian.Uint16(data[34:36])),
		DataSize:      int(binary.LittleEndian.Uint32(data[40:44])),
	}
	return info, nil
}

// PCMPayload returns the raw PCM sample data of a WAV payload, stripping the
// header. The data section length is clamped to the actual payload size so a
// truncated recording never causes an out-of-range slice.
func PCMPayload(data []byte) ([]byte, error) {
	info, err := DecodeWAVInfo(data)
	if err != nil {
		return nil, err
	}
	end := WAVHeaderSize + info.DataSize
	if end > len(data) {
		end = len(data)
	}
	return data[WAVHeaderSize:end], nil
}

// DetectMIME sniffs the MIME type of an audio payload from its leading bytes.
// RIFF/WAVE headers map to audio/wav; an MPEG frame sync (0xFF followed by a
// byte with the top three bits set) maps to audio/mpeg; everything else
// defaults to audio/wav.
func DetectMIME(data []byte) string {
	if len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE" {
		return "audio/wav"
	}
	if len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0 {
		return "audio/mpeg"
	}
	return "audio/wav"
}

// BytesToSamples converts little-endian PCM16 byte data to int16 samples.
// A trailing odd byte is ignored.
func BytesToSamples(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}
	return samples
}

// CalculateRMS calculates the root mean square energy of audio samples.
// Useful for detecting audio levels and silence.
func CalculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}

	return math.Sqrt(sum / float64(len(samples)))
}

// IsSilence reports whether a PCM16 payload's RMS energy falls below threshold.
// The session uses this as a gate to skip transcription calls on dead air.
func IsSilence(pcm []byte, threshold float64) bool {
	return CalculateRMS(BytesToSamples(pcm)) < threshold
}
