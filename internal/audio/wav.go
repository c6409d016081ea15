package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

const (
	wavFormatPCM   = 1
	wavFormatFloat = 3
)

// Clip is decoded mono audio held in memory.
type Clip struct {
	Samples    []float32
	SampleRate int
}

// LoadWAV reads a WAV file from disk
func LoadWAV(path string) (*Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()
	return ReadWAV(f)
}

// ReadWAV decodes a RIFF/WAVE stream (PCM 8/16-bit or 32-bit float),
// downmixing to mono.
func ReadWAV(r io.Reader) (*Clip, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return nil, fmt.Errorf("read wav header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, fmt.Errorf("%w: not a RIFF/WAVE stream", ErrInvalidFormat)
	}

	var (
		format     uint16
		channels   uint16
		sampleRate uint32
		bitDepth   uint16
		haveFmt    bool
	)

	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return nil, fmt.Errorf("%w: missing data chunk", ErrInvalidFormat)
		}
		id := string(hdr[0:4])
		size := binary.LittleEndian.Uint32(hdr[4:8])

		switch id {
		case "fmt ":
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, fmt.Errorf("read fmt chunk: %w", err)
			}
			if len(body) < 16 {
				return nil, fmt.Errorf("%w: short fmt chunk", ErrInvalidFormat)
			}
			format = binary.LittleEndian.Uint16(body[0:2])
			channels = binary.LittleEndian.Uint16(body[2:4])
			sampleRate = binary.LittleEndian.Uint32(body[4:8])
			bitDepth = binary.LittleEndian.Uint16(body[14:16])
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, fmt.Errorf("%w: data chunk before fmt chunk", ErrInvalidFormat)
			}
			if format != wavFormatPCM && format != wavFormatFloat {
				return nil, fmt.Errorf("%w: wav format tag %d", ErrInvalidFormat, format)
			}
			if channels == 0 || sampleRate == 0 {
				return nil, fmt.Errorf("%w: %d channels at %d Hz", ErrInvalidFormat, channels, sampleRate)
			}
			data := make([]byte, size)
			n, err := io.ReadFull(r, data)
			if err != nil && err != io.ErrUnexpectedEOF {
				return nil, fmt.Errorf("read data chunk: %w", err)
			}
			samples, err := DecodePCM(data[:n], int(bitDepth))
			if err != nil {
				return nil, err
			}
			return &Clip{
				Samples:    Downmix(samples, int(channels)),
				SampleRate: int(sampleRate),
			}, nil
		default:
			if _, err := io.CopyN(io.Discard, r, int64(size+size%2)); err != nil {
				return nil, fmt.Errorf("skip %q chunk: %w", id, err)
			}
		}
	}
}

// EncodeWAV writes mono samples as 16-bit PCM.
func EncodeWAV(w io.Writer, samples []float32, sampleRate int) error {
	var buf bytes.Buffer
	dataSize := uint32(len(samples) * 2)

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, 36+dataSize)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(wavFormatPCM))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*2))
	binary.Write(&buf, binary.LittleEndian, uint16(2))
	binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, dataSize)

	for _, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		binary.Write(&buf, binary.LittleEndian, int16(s*32767))
	}

	_, err := w.Write(buf.Bytes())
	return err
}
