// Package bridge ties an eModul account to its modules: it restores or
// creates the session, discovers modules, loads the text tables and runs
// one refresh coordinator per module.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/techbridge/techbridge/pkg/assets"
	"github.com/techbridge/techbridge/pkg/coordinator"
	"github.com/techbridge/techbridge/pkg/log"
	"github.com/techbridge/techbridge/pkg/storage"
	"github.com/techbridge/techbridge/pkg/tech"
	"github.com/techbridge/techbridge/pkg/types"
)

// ErrInvalidCredentials is returned when the vendor rejects the configured
// username and password.
var ErrInvalidCredentials = errors.New("invalid eModul credentials")

// ErrUnknownModule is returned for a module that is not polled.
var ErrUnknownModule = errors.New("unknown module")

// Module is one polled module and its coordinator.
type Module struct {
	Info        types.Module
	Coordinator *coordinator.Coordinator
}

// Bridge owns the tech client, the session storage and the coordinators.
type Bridge struct {
	client  *tech.Client
	db      storage.Database
	account tech.Account
	opts    []coordinator.Option
	now     func() time.Time

	loginMu sync.Mutex

	mu           sync.RWMutex
	lookup       *assets.Lookup
	modules      map[string]*Module
	filterResets map[string]time.Time
}

// New returns a bridge. Start must be called before modules are available.
func New(client *tech.Client, db storage.Database, account tech.Account, opts ...coordinator.Option) *Bridge {
	return &Bridge{
		client:       client,
		db:           db,
		account:      account,
		opts:         opts,
		now:          time.Now,
		modules:      map[string]*Module{},
		filterResets: map[string]time.Time{},
	}
}

// Client returns the tech client.
func (b *Bridge) Client() *tech.Client {
	return b.client
}

// Login restores the stored session or, if there is none, logs in with the
// configured credentials and stores the new session.
func (b *Bridge) Login(ctx context.Context) error {
	b.loginMu.Lock()
	defer b.loginMu.Unlock()

	s, err := b.db.GetSession(ctx, b.account.Username)
	switch {
	case err == nil:
		if b.client.Restore(s) {
			log.Ctx(ctx).DebugContext(ctx, "restored stored session", slog.String("userID", s.UserID))
			return nil
		}
		log.Ctx(ctx).WarnContext(ctx, "ignoring invalid stored session")
	case errors.Is(err, storage.ErrSessionNotFound):
	default:
		log.Ctx(ctx).WarnContext(ctx, "failed to load stored session", slog.Any("error", err))
	}
	return b.authenticate(ctx)
}

// Reauth drops the stored session and logs in again. It is the reauth hook
// of every coordinator. When cause is a rejection of a token that was
// already replaced by an earlier Reauth, nothing is done, so one expiry seen
// by many modules results in one login. A nil cause always logs in.
func (b *Bridge) Reauth(ctx context.Context, cause error) error {
	b.loginMu.Lock()
	defer b.loginMu.Unlock()

	if rejected, ok := tech.RejectedToken(cause); ok {
		if current := b.client.Session().Token; current != "" && current != rejected {
			log.Ctx(ctx).DebugContext(ctx, "session already renewed")
			return nil
		}
	}

	if err := b.db.DeleteSession(ctx, b.account.Username); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to delete stored session", slog.Any("error", err))
	}
	return b.authenticate(ctx)
}

func (b *Bridge) authenticate(ctx context.Context) error {
	if err := b.account.Validate(); err != nil {
		return err
	}
	ok, err := b.client.Authenticate(ctx, b.account.Username, b.account.Password)
	if err != nil {
		return fmt.Errorf("failed to log in: %w", err)
	}
	if !ok {
		return ErrInvalidCredentials
	}
	log.Ctx(ctx).InfoContext(ctx, "logged in", slog.String("username", b.account.Username))
	if err := b.db.SetSession(ctx, b.account.Username, b.client.Session()); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to store session", slog.Any("error", err))
	}
	return nil
}

// Start logs in, loads the text tables and creates a coordinator for every
// wanted module.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.Login(ctx); err != nil {
		return err
	}

	modules, err := b.client.ListModules(ctx)
	if tech.IsUnauthorized(err) {
		// a restored session may have expired
		if rerr := b.Reauth(ctx, err); rerr != nil {
			return rerr
		}
		modules, err = b.client.ListModules(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to list modules: %w", err)
	}

	texts, err := b.client.Translations(ctx, b.account.Language)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to load translations, using text ids", slog.Any("error", err))
		texts = nil
	}
	lookup, err := assets.New(tech.SupportedLanguage(b.account.Language), texts)
	if err != nil {
		return err
	}

	opts := append([]coordinator.Option{coordinator.WithReauth(b.Reauth)}, b.opts...)
	found := map[string]*Module{}
	for _, m := range modules {
		if !b.account.Wants(m.UDID) {
			continue
		}
		found[m.UDID] = &Module{
			Info:        m,
			Coordinator: coordinator.New(moduleAPI{b}, m.UDID, opts...),
		}
	}
	for _, udid := range b.account.Modules {
		if _, ok := found[udid]; !ok {
			log.Ctx(ctx).WarnContext(ctx, "configured module not found", slog.String("udid", udid))
		}
	}
	if len(found) == 0 {
		return errors.New("no modules to poll")
	}

	resets := map[string]time.Time{}
	for udid := range found {
		at, err := b.db.GetFilterReset(ctx, udid)
		switch {
		case err == nil:
			resets[udid] = at
		case errors.Is(err, storage.ErrFilterResetNotFound):
		default:
			log.Ctx(ctx).WarnContext(ctx, "failed to load filter reset date", slog.String("udid", udid), slog.Any("error", err))
		}
	}

	b.mu.Lock()
	b.lookup = lookup
	b.modules = found
	b.filterResets = resets
	b.mu.Unlock()
	log.Ctx(ctx).InfoContext(ctx, "bridge started", slog.Int("modules", len(found)))
	return nil
}

// Run runs every coordinator until ctx is done.
func (b *Bridge) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, m := range b.Modules() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mctx := log.WithModule(ctx, m.Info.UDID)
			if err := m.Coordinator.Run(mctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Ctx(mctx).ErrorContext(mctx, "coordinator stopped", slog.Any("error", err))
			}
		}()
	}
	wg.Wait()
}

// Subscribe adds l to every coordinator and returns a function removing it
// again.
func (b *Bridge) Subscribe(l coordinator.Listener) func() {
	var unsubs []func()
	for _, m := range b.Modules() {
		unsubs = append(unsubs, m.Coordinator.Subscribe(l))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// Lookup returns the text and icon lookup loaded by Start.
func (b *Bridge) Lookup() *assets.Lookup {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lookup
}

// Modules returns the polled modules sorted by UDID.
func (b *Bridge) Modules() []*Module {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Module, 0, len(b.modules))
	for _, m := range b.modules {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Info.UDID < out[j].Info.UDID
	})
	return out
}

// Module returns one polled module.
func (b *Bridge) Module(udid string) (*Module, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	m, ok := b.modules[udid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModule, udid)
	}
	return m, nil
}

// Refresh refreshes one module through its coordinator so listeners see the
// result.
func (b *Bridge) Refresh(ctx context.Context, udid string) error {
	m, err := b.Module(udid)
	if err != nil {
		return err
	}
	return m.Coordinator.Refresh(ctx)
}

// FilterReset returns when the filter of a module was last reset through
// the bridge, or the zero time.
func (b *Bridge) FilterReset(udid string) time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.filterResets[udid]
}

// moduleAPI feeds the coordinators. It adds the recorded filter reset to
// every update.
type moduleAPI struct {
	b *Bridge
}

func (a moduleAPI) Update(ctx context.Context, udid string) (types.ModuleData, error) {
	d, err := a.b.client.Update(ctx, udid)
	if err != nil {
		return d, err
	}
	d.FilterReset = a.b.FilterReset(udid)
	return d, nil
}

// SetZone turns a zone on or off.
func (b *Bridge) SetZone(ctx context.Context, udid string, zoneID int, on bool) (json.RawMessage, error) {
	return b.client.SetZone(ctx, udid, zoneID, on)
}

// SetConstTemp sets a constant target temperature on a zone.
func (b *Bridge) SetConstTemp(ctx context.Context, udid string, zoneID int, celsius float64) (json.RawMessage, error) {
	return b.client.SetConstTemp(ctx, udid, zoneID, celsius)
}

// Command runs a named control command. A filter reset also records the
// reset date.
func (b *Bridge) Command(ctx context.Context, udid string, cmd tech.Command, value int) (json.RawMessage, error) {
	if cmd == tech.CommandResetFilter {
		return b.ResetFilter(ctx, udid)
	}
	return b.client.Run(ctx, udid, cmd, value)
}

// ResetFilter resets the filter alarm of a module and stores the time of
// the reset. A failure to store the date is only logged since the unit was
// already reset.
func (b *Bridge) ResetFilter(ctx context.Context, udid string) (json.RawMessage, error) {
	if _, err := b.Module(udid); err != nil {
		return nil, err
	}
	res, err := b.client.ResetFilter(ctx, udid)
	if err != nil {
		return nil, err
	}
	at := b.now().UTC()
	b.mu.Lock()
	b.filterResets[udid] = at
	b.mu.Unlock()
	if err := b.db.SetFilterReset(ctx, udid, at); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to store filter reset date", slog.Any("error", err))
	}
	log.Ctx(ctx).InfoContext(ctx, "filter reset", slog.Time("at", at))
	return res, nil
}
