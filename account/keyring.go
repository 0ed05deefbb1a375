package account

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/99designs/keyring"

	"github.com/mailpulse/mailpulse"
)

// DefaultService is the keyring service name accounts are stored under.
const DefaultService = "mailpulse"

const keyPrefix = "account:"

// KeyringOptions configures the OS keyring.
type KeyringOptions struct {
	Service string
	// Backend restricts the keyring to one backend ("keychain",
	// "secret-service", "wincred", "pass", "file"). Empty allows them all.
	Backend string
	// FileDir and FilePassword configure the encrypted file backend.
	FileDir      string
	FilePassword string
}

// OpenKeyring opens the OS keyring.
func OpenKeyring(options KeyringOptions) (keyring.Keyring, error) {
	service := options.Service
	if service == "" {
		service = DefaultService
	}
	backends := []keyring.BackendType{
		keyring.KeychainBackend,
		keyring.SecretServiceBackend,
		keyring.WinCredBackend,
		keyring.PassBackend,
		keyring.FileBackend,
	}
	if options.Backend != "" {
		backends = []keyring.BackendType{keyring.BackendType(options.Backend)}
	}
	fileDir := options.FileDir
	if fileDir == "" {
		fileDir = "~/.config/" + service + "/credentials"
	}
	filePassword := options.FilePassword
	if filePassword == "" {
		filePassword = service + "-file-key"
	}

	ring, err := keyring.Open(keyring.Config{
		ServiceName:              service,
		AllowedBackends:          backends,
		FileDir:                  fileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt(filePassword),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// KeyringStore keeps accounts as JSON items in a keyring.
type KeyringStore struct {
	ring keyring.Keyring
}

var _ Store = (*KeyringStore)(nil)

// NewKeyringStore wraps ring.
func NewKeyringStore(ring keyring.Keyring) *KeyringStore {
	return &KeyringStore{ring: ring}
}

// Account implements Store.
func (s *KeyringStore) Account(ctx context.Context, email string) (*Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	item, err := s.ring.Get(keyPrefix + Key(email))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil, fmt.Errorf("account %q: %w", email, mailpulse.ErrNotFound)
	} else if err != nil {
		return nil, fmt.Errorf("getting credential %q: %w", email, err)
	}

	var acc Account
	if err := json.Unmarshal(item.Data, &acc); err != nil {
		return nil, fmt.Errorf("decoding credential %q: %w", email, err)
	}
	return &acc, nil
}

// Save stores acc, replacing any account with the same address.
func (s *KeyringStore) Save(ctx context.Context, acc *Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := acc.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(acc)
	if err != nil {
		return err
	}
	err = s.ring.Set(keyring.Item{
		Key:         keyPrefix + Key(acc.Email),
		Data:        data,
		Label:       "mailpulse account " + acc.Email,
		Description: "IMAP/SMTP credentials",
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", acc.Email, err)
	}
	return nil
}

// Delete removes the account stored for email.
func (s *KeyringStore) Delete(ctx context.Context, email string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.ring.Remove(keyPrefix + Key(email))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("account %q: %w", email, mailpulse.ErrNotFound)
	} else if err != nil {
		return fmt.Errorf("deleting credential %q: %w", email, err)
	}
	return nil
}

// Emails lists the stored addresses, sorted.
func (s *KeyringStore) Emails(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	keys, err := s.ring.Keys()
	if err != nil {
		return nil, fmt.Errorf("listing credentials: %w", err)
	}
	var emails []string
	for _, k := range keys {
		if strings.HasPrefix(k, keyPrefix) {
			emails = append(emails, strings.TrimPrefix(k, keyPrefix))
		}
	}
	sort.Strings(emails)
	return emails, nil
}
