package crypto

import (
	"encoding/base64"
	"fmt"
)

// Base64Encode encodes raw bytes with standard padding, the encoding used
// for every key, nonce, salt, and ciphertext crossing the wire boundary.
func Base64Encode(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// Base64Decode decodes standard-padded Base64.
func Base64Decode(s string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBase64, err)
	}
	return data, nil
}

// Base64DecodeLen decodes Base64 and requires an exact decoded length.
func Base64DecodeLen(s string, want int) ([]byte, error) {
	data, err := Base64Decode(s)
	if err != nil {
		return nil, err
	}
	if len(data) != want {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInvalidKeyLength, len(data), want)
	}
	return data, nil
}
