package bridge

import (
	"github.com/levenlabs/go-lflag"
	"github.com/techbridge/techbridge/pkg/coordinator"
	"github.com/techbridge/techbridge/pkg/storage"
	"github.com/techbridge/techbridge/pkg/tech"
)

// Configured returns a bridge whose account and coordinator settings come
// from flags.
func Configured(client *tech.Client, db storage.Database) *Bridge {
	account := tech.ConfiguredAccount()
	cfg := coordinator.Configured()

	b := New(client, db, tech.Account{})
	lflag.Do(func() {
		b.account = *account
		b.opts = cfg.Options()
	})
	return b
}
