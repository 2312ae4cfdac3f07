package nn

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"os"
	"sort"

	"github.com/pkg/errors"
)

// SaveSafetensors writes tensors to a safetensors file as F32
func SaveSafetensors(path string, tensors map[string]*Tensor) error {
	data, err := SerializeSafetensors(tensors)
	if err != nil {
		return err
	}
	return errors.Wrapf(os.WriteFile(path, data, 0644), "write %s", path)
}

// SerializeSafetensors converts tensors to safetensors format bytes
func SerializeSafetensors(tensors map[string]*Tensor) ([]byte, error) {
	// Sort names for deterministic order
	names := make([]string, 0, len(tensors))
	for name := range tensors {
		names = append(names, name)
	}
	sort.Strings(names)

	header := make(map[string]TensorInfo, len(names))
	currentOffset := 0
	for _, name := range names {
		t := tensors[name]
		if t == nil || shapeSize(t.Shape) != len(t.Data) {
			return nil, errors.Wrapf(ErrInvalidShape, "safetensors: tensor %s", name)
		}
		dataSize := len(t.Data) * 4
		header[name] = TensorInfo{
			DType:  "F32",
			Shape:  t.Shape,
			Offset: []int{currentOffset, currentOffset + dataSize},
		}
		currentOffset += dataSize
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return nil, errors.Wrap(err, "marshal safetensors header")
	}

	// Build file: [header_size (8 bytes)] [header JSON] [tensor data]
	headerSize := uint64(len(headerJSON))
	result := make([]byte, 8+headerSize+uint64(currentOffset))
	binary.LittleEndian.PutUint64(result[0:8], headerSize)
	copy(result[8:8+headerSize], headerJSON)

	offset := int(8 + headerSize)
	for _, name := range names {
		for _, val := range tensors[name].Data {
			binary.LittleEndian.PutUint32(result[offset:], math.Float32bits(val))
			offset += 4
		}
	}

	return result, nil
}
