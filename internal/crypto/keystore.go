package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"runtime"

	"github.com/zalando/go-keyring"
	"go.uber.org/zap"

	"github.com/Parsh06/Stock-Backend/internal/logger"
)

const (
	keystoreService = "stocksync"
	keystoreUser    = "encryption-key"
)

// ErrMalformedKey is returned when the keychain holds a value that is not a
// base64 AES-256 key. The value is left in place.
var ErrMalformedKey = errors.New("stored encryption key is malformed")

// GenerateOrLoadKey loads the AES-256 key from the system keychain. A new key
// is generated and stored only when none exists yet.
func GenerateOrLoadKey() ([]byte, error) {
	keyString, err := keyring.Get(keystoreService, keystoreUser)
	switch {
	case err == nil && keyString != "":
		key, decodeErr := base64.StdEncoding.DecodeString(keyString)
		if decodeErr != nil || len(key) != 32 {
			return nil, fmt.Errorf("%w (service %s), fix or delete it, or set ENCRYPTION_KEY", ErrMalformedKey, keystoreService)
		}
		return key, nil
	case err != nil && !errors.Is(err, keyring.ErrNotFound):
		return nil, fmt.Errorf("failed to read key from keychain, set ENCRYPTION_KEY instead: %w", err)
	}

	logger.Info("No encryption key in keychain, generating one")
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate random key: %w", err)
	}

	if err := keyring.Set(keystoreService, keystoreUser, base64.StdEncoding.EncodeToString(key)); err != nil {
		// Headless Linux hosts often have no secret service
		logger.Warn("Failed to store key in keychain, secrets will not survive a restart", zap.Error(err))

		if runtime.GOOS == "darwin" || runtime.GOOS == "windows" {
			return nil, fmt.Errorf("keychain storage required on %s: %w", runtime.GOOS, err)
		}
	}

	return key, nil
}
