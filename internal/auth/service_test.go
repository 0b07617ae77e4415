package auth

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"chat-hub/internal/config"
	"chat-hub/internal/database"
	"chat-hub/internal/models"
)

type memUsers struct {
	mu     sync.Mutex
	users  map[models.UserID]*models.User
	nextID models.UserID
}

func newMemUsers() *memUsers {
	return &memUsers{users: make(map[models.UserID]*models.User)}
}

func (m *memUsers) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, database.ErrNotFound
}

func (m *memUsers) CreateUser(_ context.Context, req *models.RegisterRequest) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == req.Email || u.Username == req.Username {
			return nil, database.ErrDuplicate
		}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.MinCost)
	if err != nil {
		return nil, err
	}
	m.nextID++
	u := &models.User{ID: m.nextID, Username: req.Username, Email: req.Email, PasswordHash: string(hash)}
	m.users[u.ID] = u
	cp := *u
	return &cp, nil
}

func (m *memUsers) GetUserByID(_ context.Context, id models.UserID) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, database.ErrNotFound)
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) SearchUsers(context.Context, string, models.UserID, int) ([]*models.User, error) {
	return nil, nil
}

func newTestService() (*Service, *memUsers) {
	users := newMemUsers()
	return NewService(users, config.JWTConfig{Secret: []byte("test-secret"), ExpiresIn: time.Hour}), users
}

func register(t *testing.T, s *Service, name string) *models.LoginResponse {
	t.Helper()
	resp, err := s.Register(context.Background(), &models.RegisterRequest{
		Username: name,
		Email:    name + "@example.com",
		Password: "password123",
	})
	require.NoError(t, err)
	return resp
}

func TestRegisterAndLogin(t *testing.T) {
	s, _ := newTestService()

	resp := register(t, s, "alice")
	assert.NotEmpty(t, resp.Token)
	assert.Empty(t, resp.User.PasswordHash)

	login, err := s.Login(context.Background(), &models.LoginRequest{Email: "alice@example.com", Password: "password123"})
	require.NoError(t, err)
	assert.Equal(t, resp.User.ID, login.User.ID)

	_, err = s.Login(context.Background(), &models.LoginRequest{Email: "alice@example.com", Password: "wrong-password"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = s.Login(context.Background(), &models.LoginRequest{Email: "nobody@example.com", Password: "password123"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = s.Register(context.Background(), &models.RegisterRequest{Username: "alice", Email: "alice@example.com", Password: "password123"})
	assert.ErrorIs(t, err, database.ErrDuplicate)
}

func TestRegisterValidation(t *testing.T) {
	s, _ := newTestService()

	tests := []struct {
		name string
		req  models.RegisterRequest
		msg  string
	}{
		{"missing fields", models.RegisterRequest{Username: "bob"}, "missing required fields"},
		{"bad email", models.RegisterRequest{Username: "bob", Email: "bob", Password: "password123"}, "invalid email format"},
		{"short password", models.RegisterRequest{Username: "bob", Email: "bob@example.com", Password: "short"}, "at least 8 characters"},
		{"short username", models.RegisterRequest{Username: " bo ", Email: "bob@example.com", Password: "password123"}, "3-30 characters"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Register(context.Background(), &tt.req)
			assert.ErrorIs(t, err, ErrInvalidInput)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestResolveIdentity(t *testing.T) {
	s, _ := newTestService()
	resp := register(t, s, "alice")

	r := httptest.NewRequest("GET", "/ws?token="+resp.Token, nil)
	identity, err := s.ResolveIdentity(r)
	require.NoError(t, err)
	assert.Equal(t, models.Identity{UserID: resp.User.ID, Username: "alice"}, identity)

	r = httptest.NewRequest("GET", "/api/conversations", nil)
	r.Header.Set("Authorization", "Bearer "+resp.Token)
	identity, err = s.ResolveIdentity(r)
	require.NoError(t, err)
	assert.Equal(t, resp.User.ID, identity.UserID)

	_, err = s.ResolveIdentity(httptest.NewRequest("GET", "/ws", nil))
	assert.ErrorIs(t, err, ErrMissingToken)

	_, err = s.ResolveIdentity(httptest.NewRequest("GET", "/ws?token=garbage", nil))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateTokenRejectsExpiredAndForeignTokens(t *testing.T) {
	s, _ := newTestService()
	resp := register(t, s, "alice")

	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err := s.ValidateToken(resp.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)
	s.now = time.Now

	other := NewService(newMemUsers(), config.JWTConfig{Secret: []byte("other-secret"), ExpiresIn: time.Hour})
	foreign, err := other.generateToken(&models.User{ID: 1, Username: "alice"})
	require.NoError(t, err)
	_, err = s.ValidateToken(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{UserID: 1}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = s.ValidateToken(hs512)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestResolveIdentityForDeletedUser(t *testing.T) {
	s, users := newTestService()
	resp := register(t, s, "alice")

	users.mu.Lock()
	delete(users.users, resp.User.ID)
	users.mu.Unlock()

	_, err := s.ResolveIdentity(httptest.NewRequest("GET", "/ws?token="+resp.Token, nil))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenFromRequestPrefersHeader(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws?token=query", nil)
	r.Header.Set("Authorization", "Bearer header")
	assert.Equal(t, "header", TokenFromRequest(r))

	r.Header.Set("Authorization", "Basic abc")
	assert.Equal(t, "query", TokenFromRequest(r))

	assert.Empty(t, TokenFromRequest(httptest.NewRequest("GET", strings.Repeat("/", 1), nil)))
}
