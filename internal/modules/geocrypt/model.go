// README: Encrypted point layout persisted in place of plaintext coordinates.
package geocrypt

import "errors"

var (
	ErrKeyMissing = errors.New("location encryption key missing")
	ErrInvalidKey = errors.New("location encryption key must be 64 hex characters")
	ErrDecrypt    = errors.New("location blob cannot be decrypted")
)

// Blob is the stored form of a point. Both fields are hex strings.
type Blob struct {
	IV         string `json:"iv" bson:"iv"`
	Ciphertext string `json:"ciphertext" bson:"ciphertext"`
}

func (b Blob) IsZero() bool {
	return b.IV == "" && b.Ciphertext == ""
}
