package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// twofaPause is the unconditional pause between the password step and the
// two-factor step. It is a rate-limit courtesy, not a retry backoff.
const twofaPause = 1 * time.Second

// Transport is the slice of the broker client the session manager needs:
// the two anonymous login calls, the margins probe, and token installation.
type Transport interface {
	LoginRequest(ctx context.Context, userID, password string) (requestID string, err error)
	TwoFARequest(ctx context.Context, userID, requestID, code string) (enctoken string, err error)
	Margins(ctx context.Context) (json.RawMessage, error)
	SetToken(enctoken string)
}

// CodeGenerator produces the 6-digit second factor from the shared secret.
type CodeGenerator func(secret string, at time.Time) (string, error)

// Credentials are the long-lived inputs to a login.
type Credentials struct {
	UserID     string
	Password   string
	TOTPSecret string
}

// Manager drives the session lifecycle: reuse an in-memory token, adopt
// and probe a cached one, or run the full login handshake. Concurrent
// EnsureSession calls share a single in-flight login.
type Manager struct {
	creds     Credentials
	transport Transport
	store     TokenStore
	generate  CodeGenerator
	logger    *logrus.Logger

	login singleflight.Group
	token string

	// pause and now are swappable for tests.
	pause func(context.Context, time.Duration) error
	now   func() time.Time
}

// NewManager wires a session manager. A nil generator defaults to
// RFC 6238 TOTP; a nil logger defaults to the standard logrus logger.
func NewManager(creds Credentials, transport Transport, store TokenStore, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	return &Manager{
		creds:     creds,
		transport: transport,
		store:     store,
		generate:  totp.GenerateCode,
		logger:    logger,
		pause:     sleepCtx,
		now:       time.Now,
	}
}

// WithCodeGenerator overrides the TOTP generator (tests).
func (m *Manager) WithCodeGenerator(gen CodeGenerator) *Manager {
	if gen != nil {
		m.generate = gen
	}
	return m
}

// Token returns the current in-memory enctoken, empty when unauthenticated.
func (m *Manager) Token() string {
	return m.token
}

// EnsureSession makes sure an enctoken is in place before authenticated
// calls. An in-memory token is trusted for the process lifetime. A token
// found in the store is adopted and probed with the margins endpoint;
// a failed probe, like an empty store, falls through to a full login.
func (m *Manager) EnsureSession(ctx context.Context) error {
	if m.token != "" {
		return nil
	}

	tok, err := m.store.Read()
	if err != nil {
		m.logger.Warnf("reading cached token: %v", err)
	}
	if tok.Enctoken != "" {
		m.adopt(tok.Enctoken)
		if _, err := m.transport.Margins(ctx); err == nil {
			return nil
		}
		m.logger.Info("cached enctoken rejected by margins probe, generating new session")
		m.drop()
	} else {
		m.logger.Info("no cached enctoken, generating new session")
	}

	return m.Login(ctx)
}

// Login runs the full two-step handshake. Concurrent callers join the
// same flight; the shared result is the flight's error.
func (m *Manager) Login(ctx context.Context) error {
	_, err, _ := m.login.Do("login", func() (interface{}, error) {
		return nil, m.doLogin(ctx)
	})
	return err
}

func (m *Manager) doLogin(ctx context.Context) error {
	requestID, err := m.transport.LoginRequest(ctx, m.creds.UserID, m.creds.Password)
	if err != nil {
		m.logger.Warnf("login step failed: %v", err)
		return fmt.Errorf("login: %w", err)
	}

	code, err := m.generate(m.creds.TOTPSecret, m.now())
	if err != nil {
		return fmt.Errorf("generating totp code: %w", err)
	}

	if err := m.pause(ctx, twofaPause); err != nil {
		return err
	}

	enctoken, err := m.transport.TwoFARequest(ctx, m.creds.UserID, requestID, code)
	if err != nil {
		m.logger.Warnf("twofa step failed: %v", err)
		return fmt.Errorf("twofa: %w", err)
	}

	if err := m.store.Write(Token{Enctoken: enctoken}); err != nil {
		// The session is still usable this run; only the cache is lost.
		m.logger.Warnf("persisting enctoken: %v", err)
	}
	m.adopt(enctoken)
	m.logger.Info("session established")
	return nil
}

// adopt installs a token in memory and on the transport.
func (m *Manager) adopt(enctoken string) {
	m.token = enctoken
	m.transport.SetToken(enctoken)
}

func (m *Manager) drop() {
	m.token = ""
	m.transport.SetToken("")
}

// sleepCtx waits d or until the context is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
