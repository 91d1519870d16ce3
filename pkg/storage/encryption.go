package storage

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/levenlabs/go-lflag"

	"github.com/cwbridge/cwbridge/pkg/log"
	"github.com/cwbridge/cwbridge/pkg/types"
)

// Encrypter seals account credentials with AES-256-GCM before they are stored
// in an entry.
type Encrypter struct {
	key string
}

// ConfiguredEncrypter sets up the Encrypter from the encryption key flag.
func ConfiguredEncrypter() *Encrypter {
	encryptionKey := lflag.RequiredString("credentials-encryption-key", "Key for encrypting credentials (32 bytes)")

	e := &Encrypter{}
	lflag.Do(func() {
		if len(*encryptionKey) != 32 {
			panic("credentials-encryption-key must be 32 bytes")
		}
		e.key = *encryptionKey
	})
	return e
}

// NewEncrypter returns an Encrypter using key.
func NewEncrypter(key string) *Encrypter {
	return &Encrypter{key: key}
}

func (e *Encrypter) gcm(ctx context.Context) (cipher.AEAD, error) {
	if e.key == "" {
		log.Ctx(ctx).ErrorContext(ctx, "no encryption key configured")
		return nil, errors.New("no encryption key configured")
	}

	key := []byte(e.key)
	if len(key) != 32 {
		log.Ctx(ctx).ErrorContext(ctx, "invalid encryption key length (must be 32 bytes)", slog.Int("length", len(key)))
		return nil, errors.New("invalid encryption key length (must be 32 bytes)")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to create cipher", slog.Any("error", err))
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to create gcm", slog.Any("error", err))
		return nil, fmt.Errorf("failed to create gcm: %w", err)
	}
	return gcm, nil
}

// DecryptCredentials opens credentials sealed by EncryptCredentials.
func (e *Encrypter) DecryptCredentials(ctx context.Context, encrypted []byte) (types.Credentials, error) {
	if len(encrypted) == 0 {
		return types.Credentials{}, nil
	}

	gcm, err := e.gcm(ctx)
	if err != nil {
		return types.Credentials{}, err
	}

	if len(encrypted) < gcm.NonceSize() {
		log.Ctx(ctx).ErrorContext(ctx, "malformed encrypted credentials", slog.Int("length", len(encrypted)))
		return types.Credentials{}, errors.New("malformed encrypted credentials")
	}

	nonce, ciphertext := encrypted[:gcm.NonceSize()], encrypted[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to decrypt credentials", slog.Any("error", err))
		return types.Credentials{}, fmt.Errorf("failed to decrypt credentials: %w", err)
	}

	var creds types.Credentials
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to unmarshal credentials", slog.Any("error", err))
		return types.Credentials{}, fmt.Errorf("failed to unmarshal credentials: %w", err)
	}
	return creds, nil
}

// EncryptCredentials seals creds with a random nonce prepended.
func (e *Encrypter) EncryptCredentials(ctx context.Context, creds types.Credentials) ([]byte, error) {
	gcm, err := e.gcm(ctx)
	if err != nil {
		return nil, err
	}

	jsonBytes, err := json.Marshal(creds)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to marshal credentials", slog.Any("error", err))
		return nil, fmt.Errorf("failed to marshal credentials: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to generate nonce", slog.Any("error", err))
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, jsonBytes, nil), nil
}
