package types

import (
	"fmt"

	"github.com/blockberries/cramberry/pkg/cramberry"
)

// Encode serializes v with the canonical cramberry encoding.
func Encode(v any) ([]byte, error) {
	data, err := cramberry.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	return data, nil
}

// Decode deserializes data produced by Encode into v.
func Decode(data []byte, v any) error {
	if err := cramberry.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrDecoding, err)
	}
	return nil
}
