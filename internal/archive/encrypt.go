package archive

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Encrypted blobs are laid out as magic | version | salt | nonce | ciphertext. The header
// up to the nonce is authenticated as additional data.
var magic = []byte("ARKX")

const (
	encryptVersion = 1

	MinPassphraseLength = 8
	saltLength          = 16

	argon2Time    = 3
	argon2Memory  = 64 * 1024
	argon2Threads = 4
	argon2KeyLen  = 32
)

var (
	ErrPassphrase         = errors.New("wrong passphrase or corrupted archive")
	ErrPassphraseTooShort = fmt.Errorf("passphrase must be at least %d characters", MinPassphraseLength)
)

func deriveKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return gcm, nil
}

// Encrypt seals data under a key derived from passphrase with a fresh salt.
func Encrypt(data, passphrase []byte) ([]byte, error) {
	if len(passphrase) < MinPassphraseLength {
		return nil, ErrPassphraseTooShort
	}

	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	gcm, err := newGCM(deriveKey(passphrase, salt))
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	header := make([]byte, 0, len(magic)+1+saltLength)
	header = append(header, magic...)
	header = append(header, encryptVersion)
	header = append(header, salt...)

	out := make([]byte, 0, len(header)+len(nonce)+len(data)+gcm.Overhead())
	out = append(out, header...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, data, header), nil
}

// IsEncrypted reports whether b starts with the encrypted archive header.
func IsEncrypted(b []byte) bool {
	return bytes.HasPrefix(b, magic)
}

func Decrypt(blob, passphrase []byte) ([]byte, error) {
	headerLen := len(magic) + 1 + saltLength
	if !IsEncrypted(blob) || len(blob) < headerLen {
		return nil, ErrBadMagic
	}
	if blob[len(magic)] != encryptVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadMagic, blob[len(magic)])
	}

	header := blob[:headerLen]
	salt := header[len(magic)+1:]

	gcm, err := newGCM(deriveKey(passphrase, salt))
	if err != nil {
		return nil, err
	}

	rest := blob[headerLen:]
	if len(rest) < gcm.NonceSize()+gcm.Overhead() {
		return nil, ErrPassphrase
	}

	nonce, sealed := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]
	data, err := gcm.Open(nil, nonce, sealed, header)
	if err != nil {
		return nil, ErrPassphrase
	}
	return data, nil
}
