// Command techbridge-login logs in to eModul once and stores the session so
// techbridge can start without keeping the password in its flags.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/levenlabs/go-lflag"
	"golang.org/x/term"

	"github.com/techbridge/techbridge/pkg/storage"
	"github.com/techbridge/techbridge/pkg/tech"
)

func main() {
	client := tech.Configured()
	account := tech.ConfiguredAccount()
	s := storage.Configured()
	lflag.Configure()

	if err := run(context.Background(), client, account, s); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, client *tech.Client, account *tech.Account, s storage.Database) error {
	defer s.Close()

	if account.Username == "" {
		return errors.New("tech-username is required")
	}
	if account.Password == "" {
		password, err := readPassword("eModul password for " + account.Username)
		if err != nil {
			return err
		}
		account.Password = password
	}

	ok, err := client.Authenticate(ctx, account.Username, account.Password)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	if !ok {
		return errors.New("login rejected")
	}
	if err := s.SetSession(ctx, account.Username, client.Session()); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}

	modules, err := client.ListModules(ctx)
	if err != nil {
		return fmt.Errorf("failed to list modules: %w", err)
	}
	fmt.Printf("Session stored for %s. Modules:\n", account.Username)
	for _, m := range modules {
		fmt.Printf("  %s\t%s\t%s\n", m.UDID, m.Name, m.Type)
	}
	return nil
}

func readPassword(prompt string) (string, error) {
	var w io.Writer
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		fd = int(os.Stderr.Fd())
		if !term.IsTerminal(fd) {
			return "", errors.New("no terminal output available for password prompt")
		}
		w = os.Stderr
	} else {
		w = os.Stdout
	}

	fmt.Fprintf(w, "%s: ", prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", err
	}
	fmt.Fprintln(w)
	return string(b), nil
}
