package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"github.com/techbridge/techbridge/pkg/common"
	"github.com/techbridge/techbridge/pkg/log"
	"github.com/techbridge/techbridge/pkg/types"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	sessionsCollection = "sessions"
	filtersCollection  = "filters"
)

// FirestoreProvider implements Database using Google Cloud Firestore. Each
// session is one document holding the AES-GCM encrypted JSON session. Filter
// reset dates are plain documents keyed by module udid.
type FirestoreProvider struct {
	client        *firestore.Client
	projectID     string
	database      string
	encryptionKey string
}

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")
	encryptionKey := lflag.String("session-encryption-key", "", "32 byte key used to encrypt sessions stored in Firestore")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database
		f.encryptionKey = *encryptionKey

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	if len(f.encryptionKey) != keyLength {
		return fmt.Errorf("session-encryption-key must be %d bytes", keyLength)
	}
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database, option.WithUserAgent("TechBridge/"+common.Version()))
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

// doc returns the session document. Account names are escaped since
// document ids cannot contain slashes.
func (f *FirestoreProvider) doc(account string) (*firestore.DocumentRef, error) {
	if err := checkAccount(account); err != nil {
		return nil, err
	}
	return f.client.Collection(sessionsCollection).Doc(url.PathEscape(account)), nil
}

func (f *FirestoreProvider) GetSession(ctx context.Context, account string) (types.Session, error) {
	ref, err := f.doc(account)
	if err != nil {
		return types.Session{}, err
	}
	doc, err := ref.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, account)
		}
		return types.Session{}, fmt.Errorf("failed to get session %s: %w", account, err)
	}

	val, err := doc.DataAt("data")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "session doc missing data", slog.String("account", account))
		return types.Session{}, fmt.Errorf("session %s missing data: %w", account, err)
	}
	data, ok := val.([]byte)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "session doc data not bytes", slog.String("account", account))
		return types.Session{}, errors.New("session data is not bytes")
	}
	s, err := decryptSession(f.encryptionKey, data)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to decrypt session", slog.String("account", account), slog.Any("error", err))
		return types.Session{}, err
	}
	return s, nil
}

func (f *FirestoreProvider) SetSession(ctx context.Context, account string, session types.Session) error {
	ref, err := f.doc(account)
	if err != nil {
		return err
	}
	data, err := encryptSession(f.encryptionKey, session)
	if err != nil {
		return err
	}
	_, err = ref.Set(ctx, map[string]any{
		"data":    data,
		"updated": time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to set session %s: %w", account, err)
	}
	return nil
}

func (f *FirestoreProvider) DeleteSession(ctx context.Context, account string) error {
	ref, err := f.doc(account)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("failed to delete session %s: %w", account, err)
	}
	return nil
}

func (f *FirestoreProvider) GetFilterReset(ctx context.Context, udid string) (time.Time, error) {
	if err := checkUDID(udid); err != nil {
		return time.Time{}, err
	}
	doc, err := f.client.Collection(filtersCollection).Doc(url.PathEscape(udid)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return time.Time{}, fmt.Errorf("%w: %s", ErrFilterResetNotFound, udid)
		}
		return time.Time{}, fmt.Errorf("failed to get filter reset %s: %w", udid, err)
	}
	val, err := doc.DataAt("resetAt")
	if err != nil {
		return time.Time{}, fmt.Errorf("filter reset %s missing resetAt: %w", udid, err)
	}
	at, ok := val.(time.Time)
	if !ok {
		return time.Time{}, errors.New("filter resetAt is not a timestamp")
	}
	return at, nil
}

func (f *FirestoreProvider) SetFilterReset(ctx context.Context, udid string, at time.Time) error {
	if err := checkUDID(udid); err != nil {
		return err
	}
	_, err := f.client.Collection(filtersCollection).Doc(url.PathEscape(udid)).Set(ctx, map[string]any{
		"resetAt": at,
	})
	if err != nil {
		return fmt.Errorf("failed to set filter reset %s: %w", udid, err)
	}
	return nil
}
