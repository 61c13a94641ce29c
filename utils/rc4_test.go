package utils

import (
	"encoding/base64"
	"errors"
	"testing"
	"unicode/utf16"
)

// encryptReference is an independent implementation of the obfuscator's
// encoder: XOR the plaintext code units with a hand-rolled RC4 keystream,
// then UTF-8 encode and base64 the result.
func encryptReference(plain, key string) string {
	var s [256]int
	for i := range s {
		s[i] = i
	}
	k := utf16.Encode([]rune(key))
	j := 0
	for i := 0; i < 256; i++ {
		j = (j + s[i] + int(k[i%len(k)])) % 256
		s[i], s[j] = s[j], s[i]
	}

	units := utf16.Encode([]rune(plain))
	out := make([]uint16, len(units))
	i, j := 0, 0
	for n, u := range units {
		i = (i + 1) % 256
		j = (j + s[i]) % 256
		s[i], s[j] = s[j], s[i]
		out[n] = u ^ uint16(s[(s[i]+s[j])%256])
	}
	return base64.StdEncoding.EncodeToString([]byte(string(utf16.Decode(out))))
}

func TestRC4RoundTrip(t *testing.T) {
	cases := []struct {
		plain string
		key   string
	}{
		{"hello", "key1"},
		{"charCodeAt", "Ab3x"},
		{"", "k"},
		{"über straße", "ZZ"},
		{"中文字符串", "pQ9"},
		{"mixed ✓ text", "a-very-long-key-that-repeats"},
	}

	for _, tc := range cases {
		enc := encryptReference(tc.plain, tc.key)
		got, err := RC4Decrypt(enc, tc.key)
		if err != nil {
			t.Fatalf("RC4Decrypt(%q, %q): %v", enc, tc.key, err)
		}
		if got != tc.plain {
			t.Errorf("round trip with key %q: got %q, want %q", tc.key, got, tc.plain)
		}
	}
}

func TestRC4DecryptErrors(t *testing.T) {
	if _, err := RC4Decrypt("aGVsbG8=", ""); !errors.Is(err, ErrEmptyKey) {
		t.Errorf("empty key: got %v, want ErrEmptyKey", err)
	}
	if _, err := RC4Decrypt("!!!", "k"); err == nil {
		t.Error("expected error for invalid base64")
	}
	// 0xff is never valid utf-8
	if _, err := RC4Decrypt(base64.StdEncoding.EncodeToString([]byte{0xff}), "k"); !errors.Is(err, ErrInvalidUTF8) {
		t.Errorf("invalid utf-8: got %v, want ErrInvalidUTF8", err)
	}
}

func TestAtobBtoa(t *testing.T) {
	raw, err := Atob("aGVsbG8")
	if err != nil {
		t.Fatalf("Atob without padding: %v", err)
	}
	if string(raw) != "hello" {
		t.Errorf("Atob = %q, want hello", raw)
	}

	enc, err := Btoa(BinaryString([]byte{0x00, 0xe9, 0xff}))
	if err != nil {
		t.Fatalf("Btoa: %v", err)
	}
	back, err := Atob(enc)
	if err != nil {
		t.Fatalf("Atob: %v", err)
	}
	if len(back) != 3 || back[1] != 0xe9 || back[2] != 0xff {
		t.Errorf("binary round trip = %v", back)
	}

	if _, err := Btoa("中"); err == nil {
		t.Error("expected Btoa to reject non-latin1 input")
	}
}
