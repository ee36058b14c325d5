package store

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/roach88/macrolens/internal/timeseries"
)

const (
	fileMagic   = "MLTS"
	fileVersion = 1
	secondsDay  = 24 * 60 * 60
	maxRows     = 1 << 28
)

var schemaColumns = []string{timeseries.ColumnDate, timeseries.ColumnValue}

var (
	// ErrSchemaMismatch means a stored file does not hold (date, value) columns.
	ErrSchemaMismatch = fmt.Errorf("store: stored series schema mismatch: %w", timeseries.ErrSchema)

	// ErrCorrupt means a stored file could not be decoded.
	ErrCorrupt = errors.New("store: corrupt series file")
)

// Codec encodes series into the columnar file format.
// It is safe for concurrent use.
type Codec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewCodec creates a codec. level ranges from 1 (fastest) to 4 (smallest).
func NewCodec(level int) (*Codec, error) {
	encLevel := zstd.SpeedDefault
	switch level {
	case 1:
		encLevel = zstd.SpeedFastest
	case 2:
		encLevel = zstd.SpeedDefault
	case 3:
		encLevel = zstd.SpeedBetterCompression
	case 4:
		encLevel = zstd.SpeedBestCompression
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(encLevel))
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	return &Codec{encoder: encoder, decoder: decoder}, nil
}

// Close releases the zstd resources.
func (c *Codec) Close() {
	if c.encoder != nil {
		c.encoder.Close()
	}
	if c.decoder != nil {
		c.decoder.Close()
	}
}

// Encode serializes a normalized series.
func (c *Codec) Encode(s timeseries.Series) []byte {
	return c.encodeColumns(schemaColumns, s)
}

func (c *Codec) encodeColumns(columns []string, s timeseries.Series) []byte {
	var buf bytes.Buffer
	buf.WriteString(fileMagic)
	buf.WriteByte(fileVersion)

	buf.Write(binary.AppendUvarint(nil, uint64(len(columns))))
	for _, name := range columns {
		buf.Write(binary.AppendUvarint(nil, uint64(len(name))))
		buf.WriteString(name)
	}
	buf.Write(binary.AppendUvarint(nil, uint64(len(s))))

	for _, block := range [][]byte{encodeDates(s), encodeValues(s), encodeValidity(s)} {
		var compressed []byte
		if len(block) > 0 {
			compressed = c.encoder.EncodeAll(block, make([]byte, 0, len(block)))
		}
		buf.Write(binary.AppendUvarint(nil, uint64(len(compressed))))
		buf.Write(compressed)
	}

	sum := crc32.ChecksumIEEE(buf.Bytes())
	buf.Write(binary.LittleEndian.AppendUint32(nil, sum))
	return buf.Bytes()
}

// Decode parses a file produced by Encode. The result is exactly what was stored;
// callers re-normalize it.
func (c *Codec) Decode(data []byte) (timeseries.Series, error) {
	if len(data) < len(fileMagic)+1+4 || string(data[:len(fileMagic)]) != fileMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	body, trailer := data[:len(data)-4], data[len(data)-4:]
	if crc32.ChecksumIEEE(body) != binary.LittleEndian.Uint32(trailer) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}

	r := bytes.NewReader(body[len(fileMagic):])
	version, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if version != fileVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, version)
	}

	ncols, err := binary.ReadUvarint(r)
	if err != nil || ncols > 64 {
		return nil, fmt.Errorf("%w: column count", ErrCorrupt)
	}
	columns := make([]string, 0, ncols)
	for i := uint64(0); i < ncols; i++ {
		n, err := binary.ReadUvarint(r)
		if err != nil || n > uint64(r.Len()) {
			return nil, fmt.Errorf("%w: column name", ErrCorrupt)
		}
		name := make([]byte, n)
		if _, err := io.ReadFull(r, name); err != nil {
			return nil, fmt.Errorf("%w: column name", ErrCorrupt)
		}
		columns = append(columns, string(name))
	}
	if !sameColumns(columns, schemaColumns) {
		return nil, fmt.Errorf("%w: expected columns %v, got %v", ErrSchemaMismatch, schemaColumns, columns)
	}

	rows, err := binary.ReadUvarint(r)
	if err != nil || rows > maxRows {
		return nil, fmt.Errorf("%w: row count", ErrCorrupt)
	}
	count := int(rows)

	blocks := make([][]byte, 3)
	for i := range blocks {
		n, err := binary.ReadUvarint(r)
		if err != nil || n > uint64(r.Len()) {
			return nil, fmt.Errorf("%w: block %d header", ErrCorrupt, i)
		}
		if n == 0 {
			continue
		}
		compressed := make([]byte, n)
		if _, err := io.ReadFull(r, compressed); err != nil {
			return nil, fmt.Errorf("%w: block %d", ErrCorrupt, i)
		}
		blocks[i], err = c.decoder.DecodeAll(compressed, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: decompress block %d: %v", ErrCorrupt, i, err)
		}
	}

	days, err := decodeDates(blocks[0], count)
	if err != nil {
		return nil, err
	}
	values, err := decodeValues(blocks[1], count)
	if err != nil {
		return nil, err
	}
	if len(blocks[2]) != (count+7)/8 {
		return nil, fmt.Errorf("%w: validity bitmap length", ErrCorrupt)
	}

	out := make(timeseries.Series, count)
	for i := 0; i < count; i++ {
		out[i].Date = time.Unix(days[i]*secondsDay, 0).UTC()
		if blocks[2][i/8]&(1<<(uint(i)%8)) != 0 {
			v := values[i]
			out[i].Value = &v
		}
	}
	return out, nil
}

// encodeDates writes days-since-epoch with delta-of-delta varints; daily series
// collapse to runs of zeros which zstd compresses well.
func encodeDates(s timeseries.Series) []byte {
	var out []byte
	var prev, prevDelta int64
	for i, p := range s {
		d := p.Date.Unix() / secondsDay
		if i == 0 {
			out = binary.AppendVarint(out, d)
		} else {
			delta := d - prev
			out = binary.AppendVarint(out, delta-prevDelta)
			prevDelta = delta
		}
		prev = d
	}
	return out
}

func decodeDates(data []byte, count int) ([]int64, error) {
	days := make([]int64, count)
	var prevDelta int64
	for i := 0; i < count; i++ {
		v, n := binary.Varint(data)
		if n <= 0 {
			return nil, fmt.Errorf("%w: date column truncated at row %d", ErrCorrupt, i)
		}
		data = data[n:]
		if i == 0 {
			days[0] = v
			continue
		}
		delta := v + prevDelta
		days[i] = days[i-1] + delta
		prevDelta = delta
	}
	return days, nil
}

// encodeValues XORs each value's bits with the previous one. Nil rows store 0 and
// are restored from the validity bitmap.
func encodeValues(s timeseries.Series) []byte {
	out := make([]byte, 0, 8*len(s))
	var prevBits uint64
	for _, p := range s {
		var bits uint64
		if p.Value != nil {
			bits = math.Float64bits(*p.Value)
		}
		out = binary.LittleEndian.AppendUint64(out, bits^prevBits)
		prevBits = bits
	}
	return out
}

func decodeValues(data []byte, count int) ([]float64, error) {
	if len(data) != 8*count {
		return nil, fmt.Errorf("%w: value column length", ErrCorrupt)
	}
	values := make([]float64, count)
	var prevBits uint64
	for i := 0; i < count; i++ {
		bits := binary.LittleEndian.Uint64(data[8*i:]) ^ prevBits
		values[i] = math.Float64frombits(bits)
		prevBits = bits
	}
	return values, nil
}

func encodeValidity(s timeseries.Series) []byte {
	out := make([]byte, (len(s)+7)/8)
	for i, p := range s {
		if p.Value != nil {
			out[i/8] |= 1 << (uint(i) % 8)
		}
	}
	return out
}

func sameColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
