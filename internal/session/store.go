package session

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/fuomag9/vscode-farm/internal/config"
	"github.com/fuomag9/vscode-farm/internal/models"
)

// Store moves sessions in and out of a cookie. The cookie value is an HS256
// signed JWT carrying the session fields, sealed with XChaCha20-Poly1305 so
// the browser can neither read nor alter the PKCE verifier.
type Store struct {
	name       string
	path       string
	secure     bool
	ttl        time.Duration
	signingKey []byte
	aead       cipher.AEAD
	logger     zerolog.Logger
	now        func() time.Time
}

type sessionClaims struct {
	Pending  *models.PendingAuthorization `json:"pending,omitempty"`
	Identity *models.LoginIdentity        `json:"identity,omitempty"`
	jwt.RegisteredClaims
}

// NewStore derives the signing and encryption keys from the cookie secret.
func NewStore(cfg config.CookieConfig, logger zerolog.Logger) (*Store, error) {
	if cfg.Secret == "" {
		return nil, errors.New("cookie secret is required")
	}

	signingKey, err := deriveKey(cfg.Secret, "vscode-farm session signing")
	if err != nil {
		return nil, err
	}
	encKey, err := deriveKey(cfg.Secret, "vscode-farm session encryption")
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(encKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create session cipher: %w", err)
	}

	return &Store{
		name:       cfg.Name,
		path:       cfg.Path,
		secure:     cfg.Secure,
		ttl:        cfg.TTL,
		signingKey: signingKey,
		aead:       aead,
		logger:     logger,
		now:        time.Now,
	}, nil
}

func deriveKey(secret, info string) ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("failed to derive session key: %w", err)
	}
	return key, nil
}

// Load returns the request's session. A missing, expired or tampered cookie
// yields a fresh empty session.
func (s *Store) Load(r *http.Request) *Session {
	cookie, err := r.Cookie(s.name)
	if err != nil || cookie.Value == "" {
		return New()
	}

	sess, err := s.decode(cookie.Value)
	if err != nil {
		s.logger.Debug().Err(err).Msg("Discarding invalid session cookie")
		return New()
	}
	return sess
}

// Save writes the session to the response. It must be called before the
// status line is written. An empty session removes the cookie.
func (s *Store) Save(w http.ResponseWriter, sess *Session) error {
	if sess.empty() {
		http.SetCookie(w, s.cookie("", -1))
		return nil
	}

	value, err := s.encode(sess)
	if err != nil {
		return err
	}
	http.SetCookie(w, s.cookie(value, int(s.ttl.Seconds())))
	return nil
}

func (s *Store) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     s.name,
		Value:    value,
		Path:     s.path,
		MaxAge:   maxAge,
		Secure:   s.secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

func (s *Store) encode(sess *Session) (string, error) {
	now := s.now()
	claims := sessionClaims{
		Pending:  sess.pending,
		Identity: sess.identity,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sess.id,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign session: %w", err)
	}

	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(signed)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate session nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, []byte(signed), []byte(s.name))

	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

func (s *Store) decode(value string) (*Session, error) {
	sealed, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("malformed session cookie: %w", err)
	}
	if len(sealed) < s.aead.NonceSize() {
		return nil, errors.New("session cookie too short")
	}

	nonce, ciphertext := sealed[:s.aead.NonceSize()], sealed[s.aead.NonceSize():]
	signed, err := s.aead.Open(nil, nonce, ciphertext, []byte(s.name))
	if err != nil {
		return nil, fmt.Errorf("failed to open session cookie: %w", err)
	}

	var claims sessionClaims
	_, err = jwt.ParseWithClaims(string(signed), &claims, func(token *jwt.Token) (interface{}, error) {
		return s.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid session token: %w", err)
	}

	sess := &Session{
		id:       claims.ID,
		pending:  claims.Pending,
		identity: claims.Identity,
	}
	if sess.id == "" {
		sess.id = New().id
	}
	return sess, nil
}
