package weights

import (
	"archive/zip"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/ivanfioravanti/SiLLM/internal/tensor"
)

const npyMagic = "\x93NUMPY"

var (
	tagToDescr = map[string]string{"F32": "<f4", "F16": "<f2", "U32": "<u4"}
	descrToTag = map[string]string{"<f4": "F32", "<f2": "F16", "<u4": "U32"}
)

func saveNPZ(path string, params map[string]*tensor.Tensor) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := writeNPZ(f, params); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeNPZ(f io.Writer, params map[string]*tensor.Tensor) error {
	// np.savez stores entries uncompressed.
	zw := zip.NewWriter(f)
	for _, name := range sortedNames(params) {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name + ".npy", Method: zip.Store})
		if err != nil {
			return err
		}
		if err := writeNPY(w, params[name]); err != nil {
			return fmt.Errorf("entry %s: %w", name, err)
		}
	}
	return zw.Close()
}

func loadNPZ(path string) (map[string]*tensor.Tensor, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	params := make(map[string]*tensor.Tensor, len(zr.File))
	for _, entry := range zr.File {
		rc, err := entry.Open()
		if err != nil {
			return nil, err
		}
		name := strings.TrimSuffix(entry.Name, ".npy")
		t, err := readNPY(name, rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("entry %s: %w", entry.Name, err)
		}
		params[name] = t
	}
	return params, nil
}

func writeNPY(w io.Writer, t *tensor.Tensor) error {
	blob, tag, err := encodeTensor(t)
	if err != nil {
		return err
	}

	dims := t.Dims()
	parts := make([]string, len(dims))
	for i, d := range dims {
		parts[i] = strconv.Itoa(d)
	}
	shape := strings.Join(parts, ", ")
	if len(dims) == 1 {
		shape += ","
	}

	header := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': (%s), }", tagToDescr[tag], shape)
	// Header block (magic through the terminating newline) pads to 64 bytes.
	if rem := (len(npyMagic) + 4 + len(header) + 1) % 64; rem != 0 {
		header += strings.Repeat(" ", 64-rem)
	}
	header += "\n"

	if _, err := io.WriteString(w, npyMagic); err != nil {
		return err
	}
	if _, err := w.Write([]byte{1, 0}); err != nil {
		return err
	}
	var hdrLen [2]byte
	binary.LittleEndian.PutUint16(hdrLen[:], uint16(len(header)))
	if _, err := w.Write(hdrLen[:]); err != nil {
		return err
	}
	if _, err := io.WriteString(w, header); err != nil {
		return err
	}
	_, err = w.Write(blob)
	return err
}

func readNPY(name string, r io.Reader) (*tensor.Tensor, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(raw) < 10 {
		return nil, io.ErrUnexpectedEOF
	}
	if string(raw[:6]) != npyMagic {
		return nil, fmt.Errorf("not an NPY entry")
	}
	if raw[6] != 1 {
		return nil, fmt.Errorf("unsupported NPY version %d.%d", raw[6], raw[7])
	}
	hdrLen := int(binary.LittleEndian.Uint16(raw[8:]))
	if len(raw) < 10+hdrLen {
		return nil, io.ErrUnexpectedEOF
	}

	descr, fortran, dims, err := parseNPYHeader(string(raw[10 : 10+hdrLen]))
	if err != nil {
		return nil, err
	}
	if fortran {
		return nil, fmt.Errorf("fortran order not supported")
	}
	tag, ok := descrToTag[descr]
	if !ok {
		return nil, fmt.Errorf("unsupported NPY descr %q", descr)
	}
	return decodeTensor(name, tag, dims, raw[10+hdrLen:])
}

// parseNPYHeader pulls the three fixed fields out of the Python dict
// literal numpy writes, e.g.
//
//	{'descr': '<f4', 'fortran_order': False, 'shape': (2, 3), }
func parseNPYHeader(header string) (descr string, fortran bool, dims []int, err error) {
	descr, err = npyField(header, "'descr':")
	if err != nil {
		return "", false, nil, err
	}
	descr = strings.Trim(descr, "'\"")

	order, err := npyField(header, "'fortran_order':")
	if err != nil {
		return "", false, nil, err
	}
	fortran = order == "True"

	shape, err := npyField(header, "'shape':")
	if err != nil {
		return "", false, nil, err
	}
	for _, part := range strings.Split(strings.Trim(shape, "()"), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := strconv.Atoi(part)
		if err != nil {
			return "", false, nil, fmt.Errorf("NPY shape %s: %w", shape, err)
		}
		dims = append(dims, d)
	}
	return descr, fortran, dims, nil
}

func npyField(header, key string) (string, error) {
	i := strings.Index(header, key)
	if i < 0 {
		return "", fmt.Errorf("NPY header missing %s", key)
	}
	rest := strings.TrimLeft(header[i+len(key):], " ")
	if strings.HasPrefix(rest, "(") {
		j := strings.IndexByte(rest, ')')
		if j < 0 {
			return "", fmt.Errorf("NPY header: unterminated tuple for %s", key)
		}
		return rest[:j+1], nil
	}
	j := strings.IndexAny(rest, ",}")
	if j < 0 {
		return "", fmt.Errorf("NPY header: unterminated value for %s", key)
	}
	return strings.TrimSpace(rest[:j]), nil
}
