package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/techbridge/techbridge/pkg/types"
)

var (
	// ErrSessionNotFound is returned when no session is stored for an account.
	ErrSessionNotFound = errors.New("session not found")
	// ErrFilterResetNotFound is returned when no filter reset was recorded for
	// a module.
	ErrFilterResetNotFound = errors.New("filter reset not found")
)

// Database persists eModul sessions keyed by account name so a restart can
// skip the login round-trip, and the filter reset date of each module.
type Database interface {
	GetSession(ctx context.Context, account string) (types.Session, error)
	SetSession(ctx context.Context, account string, session types.Session) error
	// DeleteSession removes a stored session. Deleting a missing session is
	// not an error.
	DeleteSession(ctx context.Context, account string) error

	// Filter reset dates, keyed by module udid
	GetFilterReset(ctx context.Context, udid string) (time.Time, error)
	SetFilterReset(ctx context.Context, udid string, at time.Time) error

	// Lifecycle
	Close() error
}

func checkAccount(account string) error {
	if account == "" {
		return errors.New("account cannot be empty")
	}
	return nil
}

func checkUDID(udid string) error {
	if udid == "" {
		return errors.New("udid cannot be empty")
	}
	return nil
}

// Configured sets up the Storage provider based on flags.
func Configured() Database {
	provider := lflag.String("storage-provider", "memory", "Storage provider to use (available: memory, firestore, keyring)")

	var p struct{ Database }

	fs := configuredFirestore()
	kr := configuredKeyring()

	lflag.Do(func() {
		switch *provider {
		case "memory":
			p.Database = NewMemory()
		case "firestore":
			if err := fs.Validate(); err != nil {
				panic(fmt.Sprintf("firestore validation failed: %v", err))
			}
			p.Database = fs
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
		case "keyring":
			if err := kr.Init(); err != nil {
				panic(fmt.Sprintf("keyring init failed: %v", err))
			}
			p.Database = kr
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &p
}
