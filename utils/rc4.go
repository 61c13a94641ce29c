package utils

import (
	"crypto/rc4"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

var (
	ErrEmptyKey    = errors.New("rc4: empty key")
	ErrInvalidUTF8 = errors.New("rc4: decoded payload is not valid utf-8")
)

// RC4Decrypt reverses the literal encryption used by the string table encoders.
//
// The payload is base64 decoded, then every byte is percent-escaped and the
// escaped sequence is read back as UTF-8 (the decodeURIComponent hop of the
// obfuscator runtime). The XOR runs over the resulting UTF-16 code units, so
// multi-byte plaintexts only survive when this transcoding is reproduced.
func RC4Decrypt(encoded, key string) (string, error) {
	raw, err := Atob(encoded)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(raw) {
		return "", ErrInvalidUTF8
	}

	units := utf16.Encode([]rune(string(raw)))
	stream, err := keystream(key, len(units))
	if err != nil {
		return "", err
	}

	out := make([]uint16, len(units))
	for k, u := range units {
		out[k] = u ^ uint16(stream[k])
	}
	return string(utf16.Decode(out)), nil
}

// keystream returns n bytes of RC4 output for a key given as JS code units.
// Only the first 256 units take part in the key schedule, each reduced mod 256.
func keystream(key string, n int) ([]byte, error) {
	units := utf16.Encode([]rune(key))
	if len(units) == 0 {
		return nil, ErrEmptyKey
	}
	if len(units) > 256 {
		units = units[:256]
	}

	k := make([]byte, len(units))
	for i, u := range units {
		k[i] = byte(u)
	}

	c, err := rc4.NewCipher(k)
	if err != nil {
		return nil, fmt.Errorf("rc4: %w", err)
	}
	stream := make([]byte, n)
	c.XORKeyStream(stream, stream)
	return stream, nil
}

// Atob decodes base64 the way browsers do: padding is optional and
// whitespace is ignored.
func Atob(input string) ([]byte, error) {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r', '\f':
			return -1
		}
		return r
	}, input)
	clean = strings.TrimRight(clean, "=")

	out, err := base64.RawStdEncoding.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("atob: %w", err)
	}
	return out, nil
}

// BinaryString maps every byte to the code point of the same value.
func BinaryString(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b))
	for _, c := range b {
		sb.WriteRune(rune(c))
	}
	return sb.String()
}

// Btoa is the inverse of Atob for binary strings; code points above 0xff are rejected.
func Btoa(input string) (string, error) {
	b := make([]byte, 0, len(input))
	for _, r := range input {
		if r > 0xff {
			return "", fmt.Errorf("btoa: character %U outside latin1 range", r)
		}
		b = append(b, byte(r))
	}
	return base64.StdEncoding.EncodeToString(b), nil
}
