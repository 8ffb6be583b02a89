package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryAccounts is an in-process Accounts implementation with the same
// semantics as the PostgreSQL one, including atomic rotation. Intended for
// tests and local development.
type MemoryAccounts struct {
	mu      sync.Mutex
	byEmail map[string]*Account
}

func NewMemoryAccounts() *MemoryAccounts {
	return &MemoryAccounts{byEmail: make(map[string]*Account)}
}

var _ Accounts = (*MemoryAccounts)(nil)

func cloneAccount(a *Account) *Account {
	cp := *a
	return &cp
}

func (m *MemoryAccounts) Create(_ context.Context, acct *Account) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byEmail[acct.Email]; ok {
		return nil, ErrDuplicateEmail
	}

	stored := cloneAccount(acct)
	stored.ID = uuid.NewString()
	stored.CreatedAt = time.Now().UTC()
	m.byEmail[stored.Email] = stored
	return cloneAccount(stored), nil
}

func (m *MemoryAccounts) FindByEmail(_ context.Context, email string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.byEmail[email]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return cloneAccount(acct), nil
}

func (m *MemoryAccounts) UpdateRefreshToken(_ context.Context, email, tok string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.byEmail[email]
	if !ok {
		return ErrAccountNotFound
	}
	acct.RefreshToken = tok
	return nil
}

func (m *MemoryAccounts) RotateRefreshToken(_ context.Context, email, current, next string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.byEmail[email]
	if !ok {
		return ErrAccountNotFound
	}
	if acct.RefreshToken != current {
		return ErrRefreshMismatch
	}
	acct.RefreshToken = next
	return nil
}

func (m *MemoryAccounts) SetConfirmed(_ context.Context, email string, confirmed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.byEmail[email]
	if !ok {
		return ErrAccountNotFound
	}
	acct.Confirmed = confirmed
	return nil
}

func (m *MemoryAccounts) UpdateAvatar(_ context.Context, email, url string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.byEmail[email]
	if !ok {
		return nil, ErrAccountNotFound
	}
	acct.Avatar = url
	return cloneAccount(acct), nil
}

// MemoryContacts is an in-process Contacts implementation for tests and local
// development. Listing order is creation order, matching the SQL queries.
type MemoryContacts struct {
	mu       sync.Mutex
	contacts []*Contact
}

func NewMemoryContacts() *MemoryContacts {
	return &MemoryContacts{}
}

var _ Contacts = (*MemoryContacts)(nil)

func cloneContact(c *Contact) *Contact {
	cp := *c
	return &cp
}

func (m *MemoryContacts) Create(_ context.Context, c *Contact) (*Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := cloneContact(c)
	stored.ID = uuid.NewString()
	stored.CreatedAt = time.Now().UTC()
	m.contacts = append(m.contacts, stored)
	return cloneContact(stored), nil
}

func (m *MemoryContacts) find(userID, id string) (int, *Contact) {
	for i, c := range m.contacts {
		if c.ID == id && c.UserID == userID {
			return i, c
		}
	}
	return -1, nil
}

func (m *MemoryContacts) Get(_ context.Context, userID, id string) (*Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, c := m.find(userID, id)
	if c == nil {
		return nil, ErrContactNotFound
	}
	return cloneContact(c), nil
}

func (m *MemoryContacts) List(_ context.Context, userID string, offset, limit int) ([]Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var mine []Contact
	for _, c := range m.contacts {
		if c.UserID == userID {
			mine = append(mine, *c)
		}
	}
	if offset >= len(mine) {
		return nil, nil
	}
	mine = mine[offset:]
	if limit < len(mine) {
		mine = mine[:limit]
	}
	return mine, nil
}

func (m *MemoryContacts) Update(_ context.Context, userID, id string, c *Contact) (*Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, stored := m.find(userID, id)
	if stored == nil {
		return nil, ErrContactNotFound
	}
	stored.FirstName = c.FirstName
	stored.LastName = c.LastName
	stored.Email = c.Email
	stored.Phone = c.Phone
	stored.BirthDate = c.BirthDate
	stored.Relationship = c.Relationship
	return cloneContact(stored), nil
}

func (m *MemoryContacts) Delete(_ context.Context, userID, id string) (*Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i, stored := m.find(userID, id)
	if stored == nil {
		return nil, ErrContactNotFound
	}
	m.contacts = append(m.contacts[:i], m.contacts[i+1:]...)
	return stored, nil
}

func containsFold(s, sub string) bool {
	return sub == "" || strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

func (m *MemoryContacts) Find(_ context.Context, userID, firstName, lastName, email string) ([]Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Contact
	for _, c := range m.contacts {
		if c.UserID != userID {
			continue
		}
		if containsFold(c.FirstName, firstName) &&
			containsFold(c.LastName, lastName) &&
			containsFold(c.Email, email) {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *MemoryContacts) UpcomingBirthdays(_ context.Context, userID string, days int) ([]Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	want := make(map[string]bool, days+1)
	for _, k := range birthdayKeys(time.Now(), days) {
		want[k] = true
	}

	var out []Contact
	for _, c := range m.contacts {
		if c.UserID == userID && want[c.BirthDate.Format("0102")] {
			out = append(out, *c)
		}
	}
	return out, nil
}
