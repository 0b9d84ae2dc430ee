package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
)

// Matrix file layout: 4-byte magic, uint32 row count, uint32 dims, then
// row-major float32 values. All integers and floats little-endian.
var matrixMagic = []byte("CMX1")

const matrixHeaderSize = 12

// ErrMatrixCorrupt reports a matrix file whose header or payload does not
// add up.
var ErrMatrixCorrupt = errors.New("store: embedding matrix corrupted")

// EncodeMatrix serializes row-major float32 vectors. All rows must share
// one dimensionality.
func EncodeMatrix(vectors [][]float32) ([]byte, error) {
	rows := len(vectors)
	dims := 0
	if rows > 0 {
		dims = len(vectors[0])
	}
	for i, v := range vectors {
		if len(v) != dims {
			return nil, fmt.Errorf("store: ragged matrix: row %d has %d dims, want %d", i, len(v), dims)
		}
	}

	buf := make([]byte, matrixHeaderSize+rows*dims*4)
	copy(buf, matrixMagic)
	binary.LittleEndian.PutUint32(buf[4:], uint32(rows))
	binary.LittleEndian.PutUint32(buf[8:], uint32(dims))

	off := matrixHeaderSize
	for _, v := range vectors {
		for _, x := range v {
			binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(x))
			off += 4
		}
	}
	return buf, nil
}

// DecodeMatrix parses a matrix blob produced by EncodeMatrix.
func DecodeMatrix(data []byte) ([][]float32, error) {
	if len(data) < matrixHeaderSize {
		return nil, fmt.Errorf("%w: short header (%d bytes)", ErrMatrixCorrupt, len(data))
	}
	if string(data[:4]) != string(matrixMagic) {
		return nil, fmt.Errorf("%w: bad magic", ErrMatrixCorrupt)
	}
	rows := binary.LittleEndian.Uint32(data[4:])
	dims := binary.LittleEndian.Uint32(data[8:])

	want := uint64(rows) * uint64(dims) * 4
	if uint64(len(data)-matrixHeaderSize) != want {
		return nil, fmt.Errorf("%w: payload %d bytes, header promises %d", ErrMatrixCorrupt, len(data)-matrixHeaderSize, want)
	}

	vectors := make([][]float32, rows)
	off := matrixHeaderSize
	for i := range vectors {
		row := make([]float32, dims)
		for j := range row {
			row[j] = math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
			off += 4
		}
		vectors[i] = row
	}
	return vectors, nil
}

// SaveMatrix writes vectors to path atomically.
func SaveMatrix(path string, vectors [][]float32) error {
	data, err := EncodeMatrix(vectors)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data, 0o644)
}

// LoadMatrix reads a matrix file written by SaveMatrix.
func LoadMatrix(path string) ([][]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeMatrix(data)
}
