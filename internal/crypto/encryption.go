package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// ErrNotInitialized is returned by Encrypt and Decrypt before InitEncryption
var ErrNotInitialized = errors.New("encryption not initialized")

var (
	encryptionKey []byte
	keyMu         sync.RWMutex
)

// InitEncryption loads the key from ENCRYPTION_KEY, falling back to the
// system keychain (generating and storing a key on first use)
func InitEncryption() error {
	if keyString := os.Getenv("ENCRYPTION_KEY"); keyString != "" {
		setKey(DeriveKey(keyString))
		return nil
	}

	key, err := GenerateOrLoadKey()
	if err != nil {
		return fmt.Errorf("failed to initialize encryption from keystore: %w", err)
	}
	setKey(key)
	return nil
}

// DeriveKey turns an ENCRYPTION_KEY value into 32 bytes. A base64 value of
// exactly 32 bytes is used as is; anything else is hashed with SHA-256.
func DeriveKey(keyString string) []byte {
	raw, err := base64.StdEncoding.DecodeString(keyString)
	if err != nil {
		raw = []byte(keyString)
	}
	if len(raw) == 32 {
		return raw
	}
	hash := sha256.Sum256(raw)
	return hash[:]
}

func setKey(key []byte) {
	keyMu.Lock()
	defer keyMu.Unlock()
	encryptionKey = key
}

// IsInitialized checks if encryption has been initialized
func IsInitialized() bool {
	keyMu.RLock()
	defer keyMu.RUnlock()
	return len(encryptionKey) > 0
}

func newGCM() (cipher.AEAD, error) {
	keyMu.RLock()
	key := encryptionKey
	keyMu.RUnlock()
	if len(key) == 0 {
		return nil, ErrNotInitialized
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// Encrypt seals plaintext with AES-256-GCM and returns base64(nonce|ciphertext)
func Encrypt(plaintext string) (string, error) {
	gcm, err := newGCM()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt
func Decrypt(ciphertextB64 string) (string, error) {
	gcm, err := newGCM()
	if err != nil {
		return "", err
	}

	sealed, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(sealed) < nonceSize {
		return "", errors.New("ciphertext too short")
	}

	plaintext, err := gcm.Open(nil, sealed[:nonceSize], sealed[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}

// EncryptSecret encrypts a sink secret; an empty secret stays empty
func EncryptSecret(secret string) (string, error) {
	if secret == "" {
		return "", nil
	}
	return Encrypt(secret)
}

// DecryptSecret decrypts a stored sink secret; an empty value stays empty
func DecryptSecret(stored string) (string, error) {
	if stored == "" {
		return "", nil
	}
	return Decrypt(stored)
}
