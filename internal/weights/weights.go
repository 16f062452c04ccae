// Package weights reads and writes named tensors on disk.
//
// Two container formats are supported, selected by file extension:
// .safetensors (an 8-byte header length, a JSON table of dtypes,
// shapes and data offsets, then raw little-endian tensor data) and
// .npz (a zip archive with one NPY v1 entry per tensor). Both
// round-trip the F32, F16 and U32 storage classes of the tensor
// package.
package weights

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/ivanfioravanti/SiLLM/internal/tensor"
)

type UnsupportedFormatError struct{ Ext string }

func (e UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported weights format %q (want .safetensors or .npz)", e.Ext)
}

// Save writes params to path, picking the container from the extension.
func Save(path string, params map[string]*tensor.Tensor) error {
	switch ext := filepath.Ext(path); ext {
	case ".safetensors":
		return saveSafetensors(path, params)
	case ".npz":
		return saveNPZ(path, params)
	default:
		return UnsupportedFormatError{Ext: ext}
	}
}

// Load reads every tensor stored at path.
func Load(path string) (map[string]*tensor.Tensor, error) {
	switch ext := filepath.Ext(path); ext {
	case ".safetensors":
		return loadSafetensors(path)
	case ".npz":
		return loadNPZ(path)
	default:
		return nil, UnsupportedFormatError{Ext: ext}
	}
}

func sortedNames(params map[string]*tensor.Tensor) []string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
