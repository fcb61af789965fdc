package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"taxdesk.org/internal/ids"
)

const (
	IdentityStatusActive   = "active"
	IdentityStatusDisabled = "disabled"
)

// Identity is a staff or client login. Staff identities are managed only by
// super_admin actors; the permission check lives in the access package, not
// here.
type Identity struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	AccountID    string    `json:"account_id,omitempty"` // set for client identities
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

var knownRoles = map[string]struct{}{
	"super_admin": {},
	"admin":       {},
	"staff":       {},
	"client":      {},
}

// IdentityStore manages identity persistence.
type IdentityStore interface {
	Create(ctx context.Context, identity *Identity) error
	Find(ctx context.Context, id string) (*Identity, error)
	FindByEmail(ctx context.Context, email string) (*Identity, error)
	List(ctx context.Context) ([]*Identity, error)
	SetStatus(ctx context.Context, id, status string) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
}

// Identities wraps an IdentityStore with input validation and hashing.
type Identities struct {
	store IdentityStore
	now   func() time.Time
}

// NewIdentities constructs the identity service.
func NewIdentities(store IdentityStore) *Identities {
	return &Identities{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// Register creates a new identity with a hashed password.
func (s *Identities) Register(ctx context.Context, email, password, role, accountID string) (*Identity, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	role = strings.TrimSpace(strings.ToLower(role))
	if _, ok := knownRoles[role]; !ok {
		return nil, fmt.Errorf("%w: unknown role %s", ErrInvalidInput, role)
	}
	if role == "client" && strings.TrimSpace(accountID) == "" {
		return nil, fmt.Errorf("%w: client identity requires an account", ErrInvalidInput)
	}
	hash, err := HashPassword(strings.TrimSpace(password))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	now := s.now()
	identity := &Identity{
		ID:           ids.New(),
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		AccountID:    strings.TrimSpace(accountID),
		Status:       IdentityStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Create(ctx, identity); err != nil {
		return nil, err
	}
	return identity, nil
}

// Authenticate verifies credentials and returns the active identity.
func (s *Identities) Authenticate(ctx context.Context, email, password string) (*Identity, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil, ErrUnauthorized
	}
	identity, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		return nil, ErrUnauthorized
	}
	if identity.Status != IdentityStatusActive {
		return nil, ErrUnauthorized
	}
	if err := VerifyPassword(identity.PasswordHash, password); err != nil {
		return nil, ErrUnauthorized
	}
	return identity, nil
}

// Find loads an identity by id.
func (s *Identities) Find(ctx context.Context, id string) (*Identity, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: identity id is required", ErrInvalidInput)
	}
	return s.store.Find(ctx, id)
}

// Disable marks an identity as disabled. Tokens already issued expire on
// their own; authentication stops immediately.
func (s *Identities) Disable(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: identity id is required", ErrInvalidInput)
	}
	return s.store.SetStatus(ctx, id, IdentityStatusDisabled)
}

// InMemoryIdentities implements IdentityStore for tests and the smoke runner.
type InMemoryIdentities struct {
	mu      sync.RWMutex
	byID    map[string]*Identity
	byEmail map[string]string
}

// NewInMemoryIdentities creates an empty store.
func NewInMemoryIdentities() *InMemoryIdentities {
	return &InMemoryIdentities{
		byID:    make(map[string]*Identity),
		byEmail: make(map[string]string),
	}
}

func (s *InMemoryIdentities) Create(ctx context.Context, identity *Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[identity.Email]; ok {
		return ErrAlreadyExists
	}
	cp := *identity
	s.byID[cp.ID] = &cp
	s.byEmail[cp.Email] = cp.ID
	return nil
}

func (s *InMemoryIdentities) Find(ctx context.Context, id string) (*Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	identity, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *identity
	return &cp, nil
}

func (s *InMemoryIdentities) FindByEmail(ctx context.Context, email string) (*Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[email]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.byID[id]
	return &cp, nil
}

func (s *InMemoryIdentities) List(ctx context.Context) ([]*Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Identity, 0, len(s.byID))
	for _, identity := range s.byID {
		cp := *identity
		out = append(out, &cp)
	}
	return out, nil
}

func (s *InMemoryIdentities) SetStatus(ctx context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	identity.Status = status
	identity.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemoryIdentities) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	identity.PasswordHash = passwordHash
	identity.UpdatedAt = time.Now().UTC()
	return nil
}

var _ IdentityStore = (*InMemoryIdentities)(nil)
