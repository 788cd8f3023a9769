// Package cipher implements the reversible credential encryption used for
// stored passwords: AES in ECB mode with PKCS#7 padding, base64-encoded for
// storage in a text column.
//
// SECURITY NOTE: storing passwords reversibly encrypted (rather than hashed)
// is a deliberate compatibility decision, not a recommendation. The login path
// decrypts the stored value and compares it to the supplied plaintext, and
// password-recovery flows depend on retrievability. ECB mode additionally
// leaks equal-block structure. Do not reuse this package for new designs.
package cipher

import (
	"bytes"
	"crypto/aes"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keyLen     = 32
	pbkdf2Iter = 4096
)

// keySalt is fixed so that key derivation is deterministic: ciphertexts
// written by one process must decrypt in the next.
var keySalt = []byte("stockauth.credential.v1")

// Error reports a failed encrypt or decrypt operation. It never carries
// plaintext or ciphertext material in its message.
type Error struct {
	Op  string // "encrypt" or "decrypt"
	Err error
}

func (e *Error) Error() string { return "cipher: " + e.Op + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// Cipher encrypts and decrypts credentials with a single process-wide key.
// It is safe for concurrent use; the key is immutable after construction.
type Cipher struct {
	key []byte
}

// New derives the AES key from the configured secret via PBKDF2 and returns
// a ready-to-use Cipher.
func New(secret string) (*Cipher, error) {
	if secret == "" {
		return nil, &Error{Op: "encrypt", Err: fmt.Errorf("empty cipher secret")}
	}
	key := pbkdf2.Key([]byte(secret), keySalt, pbkdf2Iter, keyLen, sha256.New)
	return &Cipher{key: key}, nil
}

// Encrypt encrypts a plaintext credential and returns it base64-encoded.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", &Error{Op: "encrypt", Err: err}
	}
	padded := pkcs7Pad([]byte(plaintext), block.BlockSize())
	out := make([]byte, len(padded))
	for i := 0; i < len(padded); i += block.BlockSize() {
		block.Encrypt(out[i:], padded[i:])
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. Malformed base64, a ciphertext that is not a
// whole number of blocks, or bad padding all fail with *Error; callers must
// treat that as credential corruption, never as an empty credential.
func (c *Cipher) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", &Error{Op: "decrypt", Err: fmt.Errorf("malformed base64: %w", err)}
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", &Error{Op: "decrypt", Err: err}
	}
	if len(raw) == 0 || len(raw)%block.BlockSize() != 0 {
		return "", &Error{Op: "decrypt", Err: fmt.Errorf("ciphertext length %d is not a whole number of blocks", len(raw))}
	}
	out := make([]byte, len(raw))
	for i := 0; i < len(raw); i += block.BlockSize() {
		block.Decrypt(out[i:], raw[i:])
	}
	unpadded, err := pkcs7Unpad(out, block.BlockSize())
	if err != nil {
		return "", &Error{Op: "decrypt", Err: err}
	}
	return string(unpadded), nil
}

func pkcs7Pad(b []byte, blockSize int) []byte {
	n := blockSize - len(b)%blockSize
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, blockSize int) ([]byte, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("empty ciphertext")
	}
	n := int(b[len(b)-1])
	if n == 0 || n > blockSize || n > len(b) {
		return nil, fmt.Errorf("invalid padding")
	}
	for _, p := range b[len(b)-n:] {
		if int(p) != n {
			return nil, fmt.Errorf("invalid padding")
		}
	}
	return b[:len(b)-n], nil
}
