// Package memstore is an in-process implementation of every storage port of
// the payment core. Transactions are serialised behind one mutex and rolled
// back by restoring a snapshot.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sudo-init-do/moverspay/internal/alerts"
	"github.com/sudo-init-do/moverspay/internal/booking"
	"github.com/sudo-init-do/moverspay/internal/escrow"
	"github.com/sudo-init-do/moverspay/internal/ledger"
	"github.com/sudo-init-do/moverspay/internal/review"
)

type txKey struct{}

type Store struct {
	mu  sync.Mutex
	st  *state
	now func() time.Time
}

type state struct {
	users    map[string]ledger.User
	drivers  map[string]ledger.Driver
	txs      map[string]ledger.Transaction
	txOrder  []string
	byCorr   map[string]string
	bookings map[string]booking.Booking
	bkOrder  []string
	escrows  map[string]escrow.Escrow
	reviews  map[string]review.Review
	notes    []alerts.Record
}

func New() *Store {
	return &Store{
		st: &state{
			users:    map[string]ledger.User{},
			drivers:  map[string]ledger.Driver{},
			txs:      map[string]ledger.Transaction{},
			byCorr:   map[string]string{},
			bookings: map[string]booking.Booking{},
			escrows:  map[string]escrow.Escrow{},
			reviews:  map[string]review.Review{},
		},
		now: time.Now,
	}
}

func (st *state) clone() *state {
	c := &state{
		users:    make(map[string]ledger.User, len(st.users)),
		drivers:  make(map[string]ledger.Driver, len(st.drivers)),
		txs:      make(map[string]ledger.Transaction, len(st.txs)),
		txOrder:  append([]string(nil), st.txOrder...),
		byCorr:   make(map[string]string, len(st.byCorr)),
		bookings: make(map[string]booking.Booking, len(st.bookings)),
		bkOrder:  append([]string(nil), st.bkOrder...),
		escrows:  make(map[string]escrow.Escrow, len(st.escrows)),
		reviews:  make(map[string]review.Review, len(st.reviews)),
		notes:    append([]alerts.Record(nil), st.notes...),
	}
	for k, v := range st.users {
		c.users[k] = v
	}
	for k, v := range st.drivers {
		c.drivers[k] = v
	}
	for k, v := range st.txs {
		c.txs[k] = v
	}
	for k, v := range st.byCorr {
		c.byCorr[k] = v
	}
	for k, v := range st.bookings {
		c.bookings[k] = v
	}
	for k, v := range st.escrows {
		c.escrows[k] = v
	}
	for k, v := range st.reviews {
		c.reviews[k] = v
	}
	return c
}

// WithinTx runs fn with exclusive access to the store. Nested calls join the
// outer transaction. An error or panic restores the state fn started from.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) == s {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.st.clone()
	defer func() {
		if p := recover(); p != nil {
			s.st = snap
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.st = snap
		return err
	}
	return nil
}

// lock takes the store mutex unless ctx already runs inside WithinTx.
func (s *Store) lock(ctx context.Context) func() {
	if ctx.Value(txKey{}) == s {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// Seed is the initial set of accounts for a memory-backed deployment.
type Seed struct {
	Users   []ledger.User   `json:"users"`
	Drivers []ledger.Driver `json:"drivers"`
}

// ReadSeed decodes a JSON seed document.
func ReadSeed(r io.Reader) (Seed, error) {
	var seed Seed
	if err := json.NewDecoder(r).Decode(&seed); err != nil {
		return Seed{}, fmt.Errorf("decode seed: %w", err)
	}
	return seed, nil
}

// Load adds every account of seed, replacing existing ones with the same id.
func (s *Store) Load(seed Seed) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range seed.Users {
		s.st.users[u.ID] = u
	}
	for _, d := range seed.Drivers {
		s.st.drivers[d.ID] = d
	}
}

func (s *Store) PutUser(u ledger.User) {
	s.Load(Seed{Users: []ledger.User{u}})
}

func (s *Store) PutDriver(d ledger.Driver) {
	s.Load(Seed{Drivers: []ledger.Driver{d}})
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }
