package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"

	"github.com/renderowl/backend/internal/models"
)

// ErrDuplicateEmail is returned when registering with an email that already exists.
var ErrDuplicateEmail = errors.New("email already registered")

// ErrInvalidCredentials is returned for a bad email/password pair.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Identity is the resolved caller of an authenticated request.
type Identity struct {
	UserID uuid.UUID
	OrgID  uuid.UUID
}

type Service interface {
	Register(ctx context.Context, email, password, displayName string) (*models.Account, error)
	Login(ctx context.Context, email, password string) (string, error)
	ValidateToken(ctx context.Context, token string) (Identity, error)
	MintAPIKey(ctx context.Context, ident Identity, name string) (string, error)
	ValidateAPIKey(ctx context.Context, key string) (Identity, error)
}

// APIKeyPrefix marks server-to-server keys so the auth middleware can
// route them past JWT parsing.
const APIKeyPrefix = "rwl_"

type service struct {
	repo   *Repository
	secret []byte
}

func NewService(repo *Repository) Service {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		secret = "devsecret"
	}
	return &service{repo: repo, secret: []byte(secret)}
}

var _ Service = (*service)(nil)

type claims struct {
	jwt.RegisteredClaims
	OrgID string `json:"org_id"`
}

func (s *service) Register(ctx context.Context, email, password, displayName string) (*models.Account, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	acc, err := s.repo.Create(ctx, email, string(hash), displayName)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}
	return acc, nil
}

func (s *service) Login(ctx context.Context, email, password string) (string, error) {
	acc, hash, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	if acc == nil {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return s.issueToken(acc.ID, acc.OrgID)
}

func (s *service) issueToken(userID, orgID uuid.UUID) (string, error) {
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		OrgID: orgID.String(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(s.secret)
}

// MintAPIKey issues a server-to-server key. Only its SHA-256 hash is
// stored; the plaintext is returned exactly once.
func (s *service) MintAPIKey(ctx context.Context, ident Identity, name string) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	key := APIKeyPrefix + hex.EncodeToString(raw)
	if err := s.repo.CreateAPIKey(ctx, ident.UserID, ident.OrgID, name, hashKey(key)); err != nil {
		return "", err
	}
	return key, nil
}

func (s *service) ValidateAPIKey(ctx context.Context, key string) (Identity, error) {
	userID, orgID, err := s.repo.GetIdentityByKeyHash(ctx, hashKey(key))
	if err != nil {
		return Identity{}, err
	}
	if userID == uuid.Nil {
		return Identity{}, ErrInvalidCredentials
	}
	return Identity{UserID: userID, OrgID: orgID}, nil
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func (s *service) ValidateToken(ctx context.Context, token string) (Identity, error) {
	tok, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return Identity{}, err
	}
	c, ok := tok.Claims.(*claims)
	if !ok || !tok.Valid {
		return Identity{}, errors.New("invalid token")
	}
	userID, err := uuid.Parse(c.Subject)
	if err != nil {
		return Identity{}, err
	}
	orgID, err := uuid.Parse(c.OrgID)
	if err != nil {
		return Identity{}, err
	}
	return Identity{UserID: userID, OrgID: orgID}, nil
}
