package nrrd

import (
	"bufio"
	"compress/bzip2"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/klauspost/compress/gzip"

	"roistats/internal/models"
)

// ReadFile loads the volume stored in path. Detached payloads are resolved
// relative to the directory of path.
func ReadFile(path string) (*models.Volume, *Header, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	vol, header, err := Read(file, filepath.Dir(path))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	return vol, header, nil
}

// Read parses an NRRD stream. dir is used to resolve a detached data file.
func Read(r io.Reader, dir string) (*models.Volume, *Header, error) {
	br := bufio.NewReader(r)

	header, err := ReadHeader(br)
	if err != nil {
		return nil, nil, err
	}

	// Attached payloads continue right after the blank line
	var payload io.Reader = br
	if header.DataFile != "" {
		dataPath := header.DataFile
		if !filepath.IsAbs(dataPath) {
			dataPath = filepath.Join(dir, dataPath)
		}

		dataFile, err := os.Open(dataPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open data file: %w", err)
		}
		defer dataFile.Close()
		payload = bufio.NewReader(dataFile)
	}

	data, err := decodePayload(header, payload)
	if err != nil {
		return nil, nil, err
	}

	spacing := header.Spacing()
	vol := &models.Volume{
		Data:      data,
		Width:     header.Sizes[0],
		Height:    header.Sizes[1],
		Depth:     header.Sizes[2],
		VoxelSize: spacing,
	}

	return vol, header, nil
}

// decodePayload applies line skip, decompression and byte skip, then
// converts the samples to float64.
func decodePayload(h *Header, r io.Reader) ([]float64, error) {
	if h.LineSkip > 0 {
		br, ok := r.(*bufio.Reader)
		if !ok {
			br = bufio.NewReader(r)
		}
		for i := 0; i < h.LineSkip; i++ {
			if _, err := br.ReadString('\n'); err != nil {
				return nil, fmt.Errorf("%w: line skip %d: %v", ErrShortData, h.LineSkip, err)
			}
		}
		r = br
	}

	switch h.Encoding {
	case EncodingGzip:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip payload: %w", err)
		}
		defer gz.Close()
		r = gz

	case EncodingBzip2:
		r = bzip2.NewReader(r)
	}

	count := h.Count()

	if h.ByteSkip == -1 {
		raw, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		need := count * h.SampleSize()
		if len(raw) < need {
			return nil, fmt.Errorf("%w: have %d bytes, need %d", ErrShortData, len(raw), need)
		}
		return decodeBinary(h, raw[len(raw)-need:]), nil
	}

	if h.ByteSkip > 0 {
		if _, err := io.CopyN(io.Discard, r, int64(h.ByteSkip)); err != nil {
			return nil, fmt.Errorf("%w: byte skip %d: %v", ErrShortData, h.ByteSkip, err)
		}
	}

	if h.Encoding == EncodingASCII {
		return decodeASCII(r, count)
	}

	// Grown as data arrives so a truncated payload is not preallocated
	need := count * h.SampleSize()
	raw, err := io.ReadAll(io.LimitReader(r, int64(need)))
	if err != nil {
		return nil, err
	}
	if len(raw) < need {
		return nil, fmt.Errorf("%w: have %d bytes, need %d", ErrShortData, len(raw), need)
	}

	return decodeBinary(h, raw), nil
}

func decodeBinary(h *Header, raw []byte) []float64 {
	var order binary.ByteOrder = binary.LittleEndian
	if h.BigEndian {
		order = binary.BigEndian
	}

	size := h.SampleSize()
	out := make([]float64, len(raw)/size)
	for i := range out {
		b := raw[i*size : (i+1)*size]
		switch h.Type {
		case TypeInt8:
			out[i] = float64(int8(b[0]))
		case TypeUint8:
			out[i] = float64(b[0])
		case TypeInt16:
			out[i] = float64(int16(order.Uint16(b)))
		case TypeUint16:
			out[i] = float64(order.Uint16(b))
		case TypeInt32:
			out[i] = float64(int32(order.Uint32(b)))
		case TypeUint32:
			out[i] = float64(order.Uint32(b))
		case TypeInt64:
			out[i] = float64(int64(order.Uint64(b)))
		case TypeUint64:
			out[i] = float64(order.Uint64(b))
		case TypeFloat:
			out[i] = float64(math.Float32frombits(order.Uint32(b)))
		case TypeDouble:
			out[i] = math.Float64frombits(order.Uint64(b))
		}
	}
	return out
}

// maxPrealloc caps the sample capacity reserved before any ASCII sample is read.
const maxPrealloc = 1 << 20

func decodeASCII(r io.Reader, count int) ([]float64, error) {
	scanner := bufio.NewScanner(r)
	scanner.Split(bufio.ScanWords)

	out := make([]float64, 0, min(count, maxPrealloc))
	for len(out) < count && scanner.Scan() {
		v, err := strconv.ParseFloat(scanner.Text(), 64)
		if err != nil {
			return nil, fmt.Errorf("bad ascii sample %q: %w", scanner.Text(), err)
		}
		out = append(out, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if len(out) < count {
		return nil, fmt.Errorf("%w: have %d samples, need %d", ErrShortData, len(out), count)
	}

	return out, nil
}
