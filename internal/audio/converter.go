// Package audio converts engine output (WAV) into the Opus frames a voice
// connection sends, entirely in memory.
package audio

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/go-audio/wav"
	"github.com/hraban/opus"
)

const (
	// SampleRate is the voice transport's fixed sample rate.
	SampleRate = 48000
	// Channels is the voice transport's channel count.
	Channels = 2
	// FrameSamples is samples per channel in one 20ms frame.
	FrameSamples = 960
	// Bitrate of encoded frames in bits per second.
	Bitrate = 64000

	maxPacketSize = 4000
)

// ErrInvalidWAV is returned for input that is not a usable PCM WAV file.
var ErrInvalidWAV = errors.New("invalid wav")

// PCM is mono 16-bit audio at Rate Hz.
type PCM struct {
	Samples []int16
	Rate    int
}

// DecodeWAV reads a PCM WAV file and downmixes it to mono 16-bit samples.
func DecodeWAV(data []byte) (*PCM, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, ErrInvalidWAV
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
	}
	if buf == nil || buf.Format == nil || len(buf.Data) == 0 {
		return nil, fmt.Errorf("%w: no samples", ErrInvalidWAV)
	}

	channels := buf.Format.NumChannels
	if channels <= 0 {
		channels = 1
	}
	shift := int(dec.BitDepth) - 16
	if dec.BitDepth != 16 && dec.BitDepth != 24 && dec.BitDepth != 32 {
		return nil, fmt.Errorf("%w: unsupported bit depth %d", ErrInvalidWAV, dec.BitDepth)
	}

	frames := len(buf.Data) / channels
	samples := make([]int16, frames)
	for i := 0; i < frames; i++ {
		sum := 0
		for ch := 0; ch < channels; ch++ {
			sum += buf.Data[i*channels+ch] >> shift
		}
		samples[i] = int16(sum / channels)
	}

	return &PCM{Samples: samples, Rate: buf.Format.SampleRate}, nil
}

// resample performs simple linear interpolation resampling
func resample(samples []int16, inputRate, outputRate int) []int16 {
	if inputRate == outputRate || len(samples) == 0 {
		return samples
	}

	ratio := float64(outputRate) / float64(inputRate)
	outputLength := int(float64(len(samples)) * ratio)
	output := make([]int16, outputLength)

	for i := 0; i < outputLength; i++ {
		srcPos := float64(i) / ratio

		idx0 := int(srcPos)
		if idx0 >= len(samples) {
			idx0 = len(samples) - 1
		}
		idx1 := idx0 + 1
		if idx1 >= len(samples) {
			idx1 = len(samples) - 1
		}

		fraction := srcPos - float64(idx0)
		output[i] = int16(float64(samples[idx0])*(1.0-fraction) + float64(samples[idx1])*fraction)
	}

	return output
}

// ToTransportPCM resamples mono PCM to 48kHz and duplicates it into
// interleaved stereo.
func ToTransportPCM(pcm *PCM) []int16 {
	mono := resample(pcm.Samples, pcm.Rate, SampleRate)
	stereo := make([]int16, len(mono)*Channels)
	for i, s := range mono {
		stereo[i*2] = s
		stereo[i*2+1] = s
	}
	return stereo
}

// Frames splits interleaved stereo PCM into 20ms frames, zero padding the last.
func Frames(stereo []int16) [][]int16 {
	size := FrameSamples * Channels
	var frames [][]int16
	for start := 0; start < len(stereo); start += size {
		frame := make([]int16, size)
		copy(frame, stereo[start:min(start+size, len(stereo))])
		frames = append(frames, frame)
	}
	return frames
}

// OpusEncoder turns WAV bytes into Opus packets ready for a voice connection.
type OpusEncoder struct {
	bitrate int
}

// NewOpusEncoder creates an encoder using the default bitrate.
func NewOpusEncoder() *OpusEncoder {
	return &OpusEncoder{bitrate: Bitrate}
}

// Encode decodes wavData and returns one Opus packet per 20ms frame.
// Each call uses its own codec state, so Encode is safe for concurrent use.
func (e *OpusEncoder) Encode(wavData []byte) ([][]byte, error) {
	pcm, err := DecodeWAV(wavData)
	if err != nil {
		return nil, err
	}

	enc, err := opus.NewEncoder(SampleRate, Channels, opus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}
	if err := enc.SetBitrate(e.bitrate); err != nil {
		return nil, fmt.Errorf("failed to set opus bitrate: %w", err)
	}

	frames := Frames(ToTransportPCM(pcm))
	packets := make([][]byte, 0, len(frames))
	buf := make([]byte, maxPacketSize)
	for i, frame := range frames {
		n, err := enc.Encode(frame, buf)
		if err != nil {
			return nil, fmt.Errorf("failed to encode frame %d: %w", i, err)
		}
		packet := make([]byte, n)
		copy(packet, buf[:n])
		packets = append(packets, packet)
	}
	return packets, nil
}
