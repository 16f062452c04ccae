package weights

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/apache/arrow-go/v18/arrow/float16"

	"github.com/ivanfioravanti/SiLLM/internal/tensor"
)

type safetensorsEntry struct {
	DType   string `json:"dtype"`
	Shape   []int  `json:"shape"`
	Offsets [2]int `json:"data_offsets"`
}

func saveSafetensors(path string, params map[string]*tensor.Tensor) error {
	header := make(map[string]safetensorsEntry, len(params))
	var blobs [][]byte
	offset := 0
	for _, name := range sortedNames(params) {
		t := params[name]
		blob, tag, err := encodeTensor(t)
		if err != nil {
			return fmt.Errorf("tensor %s: %w", name, err)
		}
		header[name] = safetensorsEntry{
			DType:   tag,
			Shape:   t.Dims(),
			Offsets: [2]int{offset, offset + len(blob)},
		}
		offset += len(blob)
		blobs = append(blobs, blob)
	}

	hdr, err := json.Marshal(header)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	var hdrLen [8]byte
	binary.LittleEndian.PutUint64(hdrLen[:], uint64(len(hdr)))
	buf.Write(hdrLen[:])
	buf.Write(hdr)
	for _, blob := range blobs {
		buf.Write(blob)
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func loadSafetensors(path string) (map[string]*tensor.Tensor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(raw) < 8 {
		return nil, io.ErrUnexpectedEOF
	}
	hdrLen := binary.LittleEndian.Uint64(raw)
	if uint64(len(raw)-8) < hdrLen {
		return nil, io.ErrUnexpectedEOF
	}

	var header map[string]json.RawMessage
	if err := json.Unmarshal(raw[8:8+hdrLen], &header); err != nil {
		return nil, fmt.Errorf("safetensors header: %w", err)
	}
	payload := raw[8+hdrLen:]

	params := make(map[string]*tensor.Tensor, len(header))
	for name, msg := range header {
		if name == "__metadata__" {
			continue
		}
		var entry safetensorsEntry
		if err := json.Unmarshal(msg, &entry); err != nil {
			return nil, fmt.Errorf("tensor %s: %w", name, err)
		}
		start, end := entry.Offsets[0], entry.Offsets[1]
		if start < 0 || end < start || end > len(payload) {
			return nil, fmt.Errorf("tensor %s: data offsets [%d, %d) out of range", name, start, end)
		}
		t, err := decodeTensor(name, entry.DType, entry.Shape, payload[start:end])
		if err != nil {
			return nil, err
		}
		params[name] = t
	}
	return params, nil
}

func encodeTensor(t *tensor.Tensor) ([]byte, string, error) {
	switch t.DType() {
	case tensor.F32:
		data := t.Data()
		out := make([]byte, 4*len(data))
		for i, v := range data {
			binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(v))
		}
		return out, "F32", nil
	case tensor.F16:
		data := t.Data()
		out := make([]byte, 2*len(data))
		for i, v := range data {
			binary.LittleEndian.PutUint16(out[2*i:], float16.New(v).Uint16())
		}
		return out, "F16", nil
	case tensor.U32:
		words := t.Words()
		out := make([]byte, 4*len(words))
		for i, w := range words {
			binary.LittleEndian.PutUint32(out[4*i:], w)
		}
		return out, "U32", nil
	default:
		return nil, "", fmt.Errorf("unsupported dtype %s", t.DType())
	}
}

func decodeTensor(name, tag string, dims []int, raw []byte) (*tensor.Tensor, error) {
	n := 1
	for _, d := range dims {
		n *= d
	}
	switch tag {
	case "F32":
		if len(raw) != 4*n {
			return nil, fmt.Errorf("tensor %s: %d bytes for shape %v", name, len(raw), dims)
		}
		data := make([]float32, n)
		for i := range data {
			data[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
		}
		return tensor.New(name, dims, data), nil
	case "F16":
		if len(raw) != 2*n {
			return nil, fmt.Errorf("tensor %s: %d bytes for shape %v", name, len(raw), dims)
		}
		data := make([]float32, n)
		for i := range data {
			data[i] = float16.FromBits(binary.LittleEndian.Uint16(raw[2*i:])).Float32()
		}
		return tensor.NewLazy(name, dims, tensor.F16, func() []float32 { return data }), nil
	case "U32":
		if len(raw) != 4*n {
			return nil, fmt.Errorf("tensor %s: %d bytes for shape %v", name, len(raw), dims)
		}
		words := make([]uint32, n)
		for i := range words {
			words[i] = binary.LittleEndian.Uint32(raw[4*i:])
		}
		return tensor.NewWords(name, dims, words), nil
	default:
		return nil, fmt.Errorf("tensor %s: unsupported dtype %q", name, tag)
	}
}
