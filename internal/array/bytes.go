package array

import (
	"fmt"
	"unsafe"
)

// Bytes returns a read-write byte view over a typed numeric slice along
// with its element type tag. The view aliases the slice's backing
// storage; it stays valid only while the slice does. Supported slice
// element types are exactly the closed Type set.
func Bytes(data any) ([]byte, Type, error) {
	switch v := data.(type) {
	case []int8:
		return view(v, 1), TypeInt8, nil
	case []int16:
		return view(v, 2), TypeInt16, nil
	case []int32:
		return view(v, 4), TypeInt32, nil
	case []int64:
		return view(v, 8), TypeInt64, nil
	case []uint8:
		return v, TypeUint8, nil
	case []uint16:
		return view(v, 2), TypeUint16, nil
	case []uint32:
		return view(v, 4), TypeUint32, nil
	case []uint64:
		return view(v, 8), TypeUint64, nil
	case []float32:
		return view(v, 4), TypeFloat32, nil
	case []float64:
		return view(v, 8), TypeFloat64, nil
	default:
		return nil, TypeUnknown, fmt.Errorf("%w: unsupported buffer type %T", ErrTypeMismatch, data)
	}
}

func view[E any](s []E, size int) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), len(s)*size)
}
