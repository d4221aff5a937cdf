package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/99designs/keyring"
	"github.com/levenlabs/go-lflag"
	"github.com/techbridge/techbridge/pkg/types"
)

const (
	keyringServiceName  = "io.techbridge"
	keyringKeyPrefix    = "session."
	keyringFilterPrefix = "filter."
)

// KeyringProvider stores sessions in the operating system credential store.
type KeyringProvider struct {
	config keyring.Config
	ring   keyring.Keyring
}

// NewKeyring wraps an already opened keyring.
func NewKeyring(ring keyring.Keyring) *KeyringProvider {
	return &KeyringProvider{ring: ring}
}

func configuredKeyring() *KeyringProvider {
	backend := lflag.String("keyring-backend", "", "Keyring backend (e.g. keychain, secret-service, file). Empty picks the first available")
	dir := lflag.String("keyring-file-dir", "~/.techbridge", "Directory used by the file keyring backend")
	password := lflag.String("keyring-file-password", "", "Password of the file keyring backend")

	k := &KeyringProvider{}

	lflag.Do(func() {
		k.config = keyring.Config{
			ServiceName:              keyringServiceName,
			KeychainTrustApplication: true,
			KeyCtlScope:              "user",
			FileDir:                  *dir,
			FilePasswordFunc:         keyring.FixedStringPrompt(*password),
		}
		if *backend != "" {
			k.config.AllowedBackends = []keyring.BackendType{keyring.BackendType(*backend)}
		}
	})

	return k
}

// Init opens the keyring.
func (k *KeyringProvider) Init() error {
	ring, err := keyring.Open(k.config)
	if err != nil {
		return fmt.Errorf("failed to open keyring: %w", err)
	}
	k.ring = ring
	return nil
}

func (k *KeyringProvider) GetSession(ctx context.Context, account string) (types.Session, error) {
	if err := checkAccount(account); err != nil {
		return types.Session{}, err
	}
	item, err := k.ring.Get(keyringKeyPrefix + account)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return types.Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, account)
		}
		return types.Session{}, fmt.Errorf("could not load session: %w", err)
	}
	var s types.Session
	if err := json.Unmarshal(item.Data, &s); err != nil {
		return types.Session{}, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return s, nil
}

func (k *KeyringProvider) SetSession(ctx context.Context, account string, session types.Session) error {
	if err := checkAccount(account); err != nil {
		return err
	}
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := k.ring.Set(keyring.Item{
		Key:         keyringKeyPrefix + account,
		Data:        data,
		Label:       "techbridge session",
		Description: "eModul session for " + account,
	}); err != nil {
		return fmt.Errorf("failed to store session in keyring: %w", err)
	}
	return nil
}

func (k *KeyringProvider) DeleteSession(ctx context.Context, account string) error {
	if err := checkAccount(account); err != nil {
		return err
	}
	if err := k.ring.Remove(keyringKeyPrefix + account); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("failed to remove session from keyring: %w", err)
	}
	return nil
}

func (k *KeyringProvider) GetFilterReset(ctx context.Context, udid string) (time.Time, error) {
	if err := checkUDID(udid); err != nil {
		return time.Time{}, err
	}
	item, err := k.ring.Get(keyringFilterPrefix + udid)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return time.Time{}, fmt.Errorf("%w: %s", ErrFilterResetNotFound, udid)
		}
		return time.Time{}, fmt.Errorf("could not load filter reset: %w", err)
	}
	at, err := time.Parse(time.RFC3339Nano, string(item.Data))
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse filter reset: %w", err)
	}
	return at, nil
}

func (k *KeyringProvider) SetFilterReset(ctx context.Context, udid string, at time.Time) error {
	if err := checkUDID(udid); err != nil {
		return err
	}
	if err := k.ring.Set(keyring.Item{
		Key:         keyringFilterPrefix + udid,
		Data:        []byte(at.UTC().Format(time.RFC3339Nano)),
		Label:       "techbridge filter reset",
		Description: "filter reset date of module " + udid,
	}); err != nil {
		return fmt.Errorf("failed to store filter reset in keyring: %w", err)
	}
	return nil
}

func (k *KeyringProvider) Close() error {
	return nil
}
