package mailclient

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/mailpulse/mailpulse"
	"github.com/mailpulse/mailpulse/account"
)

// Registry owns the connected clients, keyed by account address. Callers
// borrow a Client for the duration of a call; the Registry closes it.
type Registry struct {
	store   account.Store
	options *Options

	opening singleflight.Group

	mutex   sync.Mutex
	clients map[string]*Client
}

// NewRegistry creates a Registry which looks accounts up in store.
func NewRegistry(store account.Store, options *Options) *Registry {
	return &Registry{
		store:   store,
		options: options,
		clients: make(map[string]*Client),
	}
}

// Open returns the client of email, connecting it when there is none or the
// previous one was logged out. Concurrent calls for the same account share
// one connection attempt.
func (r *Registry) Open(ctx context.Context, email string) (*Client, error) {
	key := account.Key(email)
	if c := r.lookup(key); c != nil && c.Alive() {
		return c, nil
	}

	v, err, _ := r.opening.Do(key, func() (interface{}, error) {
		if c := r.lookup(key); c != nil {
			if c.Alive() {
				return c, nil
			}
			r.remove(key, c)
			c.IMAP.Close()
		}

		acc, err := r.store.Account(ctx, email)
		if err != nil {
			return nil, err
		}
		c, err := Connect(ctx, acc, r.options)
		if err != nil {
			return nil, err
		}

		r.mutex.Lock()
		r.clients[key] = c
		r.mutex.Unlock()
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Client), nil
}

func (r *Registry) lookup(key string) *Client {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.clients[key]
}

func (r *Registry) remove(key string, c *Client) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.clients[key] == c {
		delete(r.clients, key)
	}
}

// Get returns the open client of email.
func (r *Registry) Get(email string) (*Client, error) {
	c := r.lookup(account.Key(email))
	if c == nil {
		return nil, fmt.Errorf("mailclient: no client for %q: %w", email, mailpulse.ErrNotFound)
	}
	return c, nil
}

// Close disconnects the client of email and forgets it.
func (r *Registry) Close(ctx context.Context, email string) error {
	key := account.Key(email)
	r.mutex.Lock()
	c := r.clients[key]
	delete(r.clients, key)
	r.mutex.Unlock()

	if c == nil {
		return fmt.Errorf("mailclient: no client for %q: %w", email, mailpulse.ErrNotFound)
	}
	return c.Disconnect(ctx)
}

// CloseAll disconnects every client concurrently.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mutex.Lock()
	clients := r.clients
	r.clients = make(map[string]*Client)
	r.mutex.Unlock()

	var (
		g     errgroup.Group
		mutex sync.Mutex
		errs  []error
	)
	for _, c := range clients {
		g.Go(func() error {
			if err := c.Disconnect(ctx); err != nil {
				mutex.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", c.Email, err))
				mutex.Unlock()
			}
			return nil
		})
	}
	g.Wait()
	return errors.Join(errs...)
}

// Accounts returns the addresses with an open client, sorted.
func (r *Registry) Accounts() []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	emails := make([]string, 0, len(r.clients))
	for key := range r.clients {
		emails = append(emails, key)
	}
	sort.Strings(emails)
	return emails
}
