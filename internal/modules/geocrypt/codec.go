// README: AES-256-GCM codec for coordinate pairs; one random nonce per Encrypt.
package geocrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"sharedride/internal/types"
)

const keySize = 32

type Codec struct {
	aead cipher.AEAD
}

// ParseKey decodes the configured hex key. An empty value is ErrKeyMissing;
// callers must treat that as fatal.
func ParseKey(hexKey string) ([]byte, error) {
	hexKey = strings.TrimSpace(hexKey)
	if hexKey == "" {
		return nil, ErrKeyMissing
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil || len(key) != keySize {
		return nil, ErrInvalidKey
	}
	return key, nil
}

func New(key []byte) (*Codec, error) {
	if len(key) == 0 {
		return nil, ErrKeyMissing
	}
	if len(key) != keySize {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return &Codec{aead: aead}, nil
}

// NewFromHex is ParseKey followed by New.
func NewFromHex(hexKey string) (*Codec, error) {
	key, err := ParseKey(hexKey)
	if err != nil {
		return nil, err
	}
	return New(key)
}

func (c *Codec) Encrypt(p types.Point) (Blob, error) {
	if err := p.Validate(); err != nil {
		return Blob{}, err
	}
	plain, err := json.Marshal(p)
	if err != nil {
		return Blob{}, fmt.Errorf("encoding point: %w", err)
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return Blob{}, fmt.Errorf("reading nonce: %w", err)
	}
	sealed := c.aead.Seal(nil, nonce, plain, nil)
	return Blob{
		IV:         hex.EncodeToString(nonce),
		Ciphertext: hex.EncodeToString(sealed),
	}, nil
}

func (c *Codec) Decrypt(b Blob) (types.Point, error) {
	nonce, err := hex.DecodeString(b.IV)
	if err != nil || len(nonce) != c.aead.NonceSize() {
		return types.Point{}, fmt.Errorf("%w: bad iv", ErrDecrypt)
	}
	sealed, err := hex.DecodeString(b.Ciphertext)
	if err != nil {
		return types.Point{}, fmt.Errorf("%w: bad ciphertext encoding", ErrDecrypt)
	}
	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return types.Point{}, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	var p types.Point
	if err := json.Unmarshal(plain, &p); err != nil {
		return types.Point{}, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return p, nil
}
