package auth

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/victornm/etrivia/internal/errors"
)

// Credential is a stored account.
type Credential struct {
	UserID       string
	Email        string
	PasswordHash []byte
}

// Store persists credentials. Insert fails with AlreadyExists on a duplicate email,
// FindByEmail with NotFound when there is no such account.
type Store interface {
	Insert(ctx context.Context, c Credential) error
	FindByEmail(ctx context.Context, email string) (*Credential, error)
	Delete(ctx context.Context, userID string) error
}

type Config struct {
	Store  Store
	Tokens *Tokens
	// Cost is the bcrypt cost, bcrypt.DefaultCost when zero.
	Cost int
}

type Service struct {
	store  Store
	tokens *Tokens
	cost   int
}

func NewService(c Config) *Service {
	s := &Service{store: c.Store, tokens: c.Tokens, cost: c.Cost}
	if s.cost == 0 {
		s.cost = bcrypt.DefaultCost
	}
	return s
}

type Session struct {
	UserID string
	Email  string
	Token  string
}

func (s *Service) Register(ctx context.Context, email, password string) (*Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("email and password are required"))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("unusable password"), errors.WithCause(err))
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate user ID: %w", err)
	}

	c := Credential{UserID: id.String(), Email: email, PasswordHash: hash}
	if err := s.store.Insert(ctx, c); err != nil {
		return nil, err
	}

	return s.session(c)
}

func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	c, err := s.store.FindByEmail(ctx, email)
	if errors.Is(err, errors.CodeNotFound) {
		return nil, errInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword(c.PasswordHash, []byte(password)); err != nil {
		return nil, errInvalidCredentials
	}

	return s.session(*c)
}

func (s *Service) Delete(ctx context.Context, userID string) error {
	return s.store.Delete(ctx, userID)
}

func (s *Service) Verify(token string) (*Claims, error) {
	return s.tokens.Verify(token)
}

func (s *Service) session(c Credential) (*Session, error) {
	token, err := s.tokens.Issue(c.UserID, c.Email)
	if err != nil {
		return nil, err
	}
	return &Session{UserID: c.UserID, Email: c.Email, Token: token}, nil
}

var errInvalidCredentials = errors.New(errors.CodeUnauthenticated, errors.WithMessagef("invalid credentials"))

// PostgresStore keeps credentials in the credentials table.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Insert(ctx context.Context, c Credential) error {
	const stmt = `INSERT INTO credentials (user_id, email, password_hash) VALUES ($1, $2, $3);`

	_, err := p.db.Exec(ctx, stmt, c.UserID, c.Email, string(c.PasswordHash))

	var pgErr *pgconn.PgError
	const codeUniqueViolation = "23505"
	if stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("email already registered"),
			errors.WithCause(err))
	}
	if err != nil {
		return fmt.Errorf("insert credential: %w", err)
	}

	return nil
}

func (p *PostgresStore) FindByEmail(ctx context.Context, email string) (*Credential, error) {
	const stmt = `SELECT user_id, email, password_hash FROM credentials WHERE email = $1;`

	var (
		c    Credential
		hash string
	)
	err := p.db.QueryRow(ctx, stmt, email).Scan(&c.UserID, &c.Email, &hash)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("no account for %s", email))
	}
	if err != nil {
		return nil, fmt.Errorf("find credential: %w", err)
	}

	c.PasswordHash = []byte(hash)
	return &c, nil
}

func (p *PostgresStore) Delete(ctx context.Context, userID string) error {
	if _, err := p.db.Exec(ctx, `DELETE FROM credentials WHERE user_id = $1;`, userID); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}
