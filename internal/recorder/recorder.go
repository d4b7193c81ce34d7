// Package recorder writes and reads raw I/Q capture files: a small binary
// header describing the stream followed by complex64 samples. Captures taken
// from a live session can be replayed later as a display-rate stream.
package recorder

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"time"
)

// fileMagic identifies a waterfall capture file.
const fileMagic = "PHXWF"

// FormatVersion is the current capture file format version.
const FormatVersion uint16 = 1

// Metadata describes the captured stream.
type Metadata struct {
	FileFormatVersion uint16
	SampleRate        uint32 // rate of the stored samples in Hz
	CenterFreq        uint64 // tuner center frequency, 0 when unknown
	StartTime         time.Time
	SourceInfo        string // free-form description of the source
}

// Writer streams samples into a capture file. The sample count is patched
// into the header on Close, so a crash mid-capture leaves a zero count
// rather than a lying one.
type Writer struct {
	file     *os.File
	buf      *bufio.Writer
	countPos int64
	count    uint32
}

// NewWriter creates the capture file and writes its header.
func NewWriter(filename string, meta Metadata) (*Writer, error) {
	file, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create capture file: %w", err)
	}

	w := &Writer{file: file, buf: bufio.NewWriter(file)}
	if err := w.writeHeader(meta); err != nil {
		file.Close()
		return nil, fmt.Errorf("write capture header: %w", err)
	}
	return w, nil
}

func (w *Writer) writeHeader(meta Metadata) error {
	if _, err := w.buf.WriteString(fileMagic); err != nil {
		return err
	}
	version := meta.FileFormatVersion
	if version == 0 {
		version = FormatVersion
	}
	if err := binary.Write(w.buf, binary.LittleEndian, version); err != nil {
		return err
	}
	if err := binary.Write(w.buf, binary.LittleEndian, meta.SampleRate); err != nil {
		return err
	}
	if err := binary.Write(w.buf, binary.LittleEndian, meta.CenterFreq); err != nil {
		return err
	}
	if err := binary.Write(w.buf, binary.LittleEndian, meta.StartTime.Unix()); err != nil {
		return err
	}
	if err := binary.Write(w.buf, binary.LittleEndian, int32(meta.StartTime.Nanosecond())); err != nil {
		return err
	}

	info := []byte(meta.SourceInfo)
	if len(info) > 255 {
		info = info[:255]
	}
	if err := binary.Write(w.buf, binary.LittleEndian, uint8(len(info))); err != nil {
		return err
	}
	if _, err := w.buf.Write(info); err != nil {
		return err
	}

	// Sample count placeholder, patched on Close.
	if err := w.buf.Flush(); err != nil {
		return err
	}
	pos, err := w.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	w.countPos = pos
	return binary.Write(w.buf, binary.LittleEndian, uint32(0))
}

// WriteSamples appends samples to the capture.
func (w *Writer) WriteSamples(samples []complex64) error {
	var b [8]byte
	for _, s := range samples {
		binary.LittleEndian.PutUint32(b[0:], math.Float32bits(real(s)))
		binary.LittleEndian.PutUint32(b[4:], math.Float32bits(imag(s)))
		if _, err := w.buf.Write(b[:]); err != nil {
			return fmt.Errorf("write samples: %w", err)
		}
	}
	w.count += uint32(len(samples))
	return nil
}

// Count returns the number of samples written so far.
func (w *Writer) Count() uint32 { return w.count }

// Close flushes buffered samples, patches the header's sample count, and
// closes the file.
func (w *Writer) Close() error {
	if err := w.buf.Flush(); err != nil {
		w.file.Close()
		return fmt.Errorf("flush capture: %w", err)
	}
	if _, err := w.file.Seek(w.countPos, io.SeekStart); err != nil {
		w.file.Close()
		return fmt.Errorf("patch sample count: %w", err)
	}
	if err := binary.Write(w.file, binary.LittleEndian, w.count); err != nil {
		w.file.Close()
		return fmt.Errorf("patch sample count: %w", err)
	}
	return w.file.Close()
}

// ReadMetadata reads the capture header without loading sample data.
func ReadMetadata(filename string) (*Metadata, uint32, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, 0, fmt.Errorf("open capture file: %w", err)
	}
	defer file.Close()

	r := bufio.NewReader(file)
	meta, count, err := readHeader(r)
	if err != nil {
		return nil, 0, err
	}
	return meta, count, nil
}

// ReadFile reads the complete capture including all sample data.
func ReadFile(filename string) (*Metadata, []complex64, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, nil, fmt.Errorf("open capture file: %w", err)
	}
	defer file.Close()

	r := bufio.NewReader(file)
	meta, count, err := readHeader(r)
	if err != nil {
		return nil, nil, err
	}

	samples := make([]complex64, count)
	var b [8]byte
	for i := uint32(0); i < count; i++ {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, nil, fmt.Errorf("read sample %d: %w", i, err)
		}
		re := math.Float32frombits(binary.LittleEndian.Uint32(b[0:]))
		im := math.Float32frombits(binary.LittleEndian.Uint32(b[4:]))
		samples[i] = complex(re, im)
	}
	return meta, samples, nil
}

func readHeader(r *bufio.Reader) (*Metadata, uint32, error) {
	magic := make([]byte, len(fileMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, 0, fmt.Errorf("read magic: %w", err)
	}
	if string(magic) != fileMagic {
		return nil, 0, fmt.Errorf("not a waterfall capture file")
	}

	var meta Metadata
	if err := binary.Read(r, binary.LittleEndian, &meta.FileFormatVersion); err != nil {
		return nil, 0, err
	}
	if err := binary.Read(r, binary.LittleEndian, &meta.SampleRate); err != nil {
		return nil, 0, err
	}
	if err := binary.Read(r, binary.LittleEndian, &meta.CenterFreq); err != nil {
		return nil, 0, err
	}

	var startUnix int64
	var startNano int32
	if err := binary.Read(r, binary.LittleEndian, &startUnix); err != nil {
		return nil, 0, err
	}
	if err := binary.Read(r, binary.LittleEndian, &startNano); err != nil {
		return nil, 0, err
	}
	meta.StartTime = time.Unix(startUnix, int64(startNano))

	var infoLen uint8
	if err := binary.Read(r, binary.LittleEndian, &infoLen); err != nil {
		return nil, 0, err
	}
	info := make([]byte, infoLen)
	if _, err := io.ReadFull(r, info); err != nil {
		return nil, 0, err
	}
	meta.SourceInfo = string(info)

	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, 0, err
	}
	return &meta, count, nil
}
