package tech

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/techbridge/techbridge/pkg/common"
)

// Account holds the credentials and module selection for one eModul account.
type Account struct {
	Username string
	Password string
	Language string
	// Modules limits which modules are polled. Empty means every module
	// returned by ListModules.
	Modules []string
}

// Validate returns an error if the account cannot be used to log in.
func (a Account) Validate() error {
	if a.Username == "" {
		return errors.New("tech-username is required")
	}
	if a.Password == "" {
		return errors.New("tech-password is required")
	}
	return nil
}

// Wants returns true if the module should be polled.
func (a Account) Wants(udid string) bool {
	return len(a.Modules) == 0 || slices.Contains(a.Modules, udid)
}

// Configured returns a Client configured from flags. The client is usable once
// lflag.Configure has run.
func Configured() *Client {
	c := New()
	apiURL := lflag.String("tech-api-url", DefaultBaseURL, "Base URL of the eModul API")
	interval := lflag.Duration("tech-update-interval", DefaultUpdateInterval, "How long cached module data is considered fresh")
	timeout := lflag.Duration("tech-http-timeout", time.Minute, "Timeout for a single request to the eModul API")

	lflag.Do(func() {
		if _, err := url.Parse(*apiURL); err != nil {
			panic(fmt.Sprintf("invalid tech-api-url: %v", err))
		}
		if *interval <= 0 {
			panic("tech-update-interval must be positive")
		}
		c.baseURL = *apiURL
		c.interval = *interval
		c.httpClient = common.HTTPClient(*timeout)
	})
	return c
}

// ConfiguredAccount returns the account configured from flags.
func ConfiguredAccount() *Account {
	var a Account
	username := lflag.String("tech-username", "", "eModul account username")
	password := lflag.String("tech-password", "", "eModul account password")
	language := lflag.String("tech-language", DefaultLanguage, "Language of the vendor text tables")
	modules := lflag.String("tech-modules", "", "Comma-delimited list of module UDIDs to poll (default all)")

	lflag.Do(func() {
		a.Username = *username
		a.Password = *password
		a.Language = SupportedLanguage(*language)
		for _, m := range strings.Split(*modules, ",") {
			if m = strings.TrimSpace(m); m != "" {
				a.Modules = append(a.Modules, m)
			}
		}
	})
	return &a
}
