// Package identitysvc implements the identity provider contract.
package identitysvc

import (
	"context"
	"net/mail"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/masomo-identity/core"
	"github.com/trezcool/masomo-identity/core/auth"
	"github.com/trezcool/masomo-identity/core/user"
)

type (
	memAccount struct {
		id        string
		email     string
		hash      []byte
		confirmed bool
		meta      user.Metadata
	}

	memToken struct {
		providerID string
		expiresAt  time.Time
	}

	// MemoryProvider is a self-contained provider for development and tests.
	// It mails its own verification and reset links through an EmailService.
	MemoryProvider struct {
		mu           sync.Mutex
		accounts     map[string]*memAccount // by lowered email
		verifyTokens map[string]memToken
		resetTokens  map[string]memToken
		lastTokens   map[string]string // "<kind>:<email>" -> last issued token

		mailSvc     core.EmailService
		frontendURL string
		cost        int
		resetTTL    time.Duration
		failures    int
	}
)

var _ user.Provider = (*MemoryProvider)(nil)

func NewMemoryProvider(conf *core.Config, mailSvc core.EmailService) *MemoryProvider {
	return &MemoryProvider{
		accounts:     make(map[string]*memAccount),
		verifyTokens: make(map[string]memToken),
		resetTokens:  make(map[string]memToken),
		lastTokens:   make(map[string]string),
		mailSvc:      mailSvc,
		frontendURL:  conf.FrontendBaseURL,
		cost:         conf.BcryptCost,
		resetTTL:     conf.PasswordResetTimeout,
	}
}

// FailNext makes the next n calls fail as if the provider were unreachable.
func (p *MemoryProvider) FailNext(n int) {
	p.mu.Lock()
	p.failures = n
	p.mu.Unlock()
}

// VerificationToken returns the last verification token issued to email.
func (p *MemoryProvider) VerificationToken(email string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastTokens["verify:"+core.CleanEmail(email)]
}

// ResetToken returns the last password reset token issued to email.
func (p *MemoryProvider) ResetToken(email string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastTokens["reset:"+core.CleanEmail(email)]
}

// Confirm marks email as confirmed without going through the local service.
func (p *MemoryProvider) Confirm(email string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if acc, ok := p.accounts[core.CleanEmail(email)]; ok {
		acc.confirmed = true
	}
}

// unavailable must be called with the lock held.
func (p *MemoryProvider) unavailable() error {
	if p.failures > 0 {
		p.failures--
		return user.NewProviderError(user.ProviderUnavailable, errors.New("connection refused"))
	}
	return nil
}

// issue must be called with the lock held.
func (p *MemoryProvider) issue(kind string, acc *memAccount, ttl time.Duration) (string, error) {
	token, err := auth.NewOpaqueToken()
	if err != nil {
		return "", user.NewProviderError(user.ProviderUnavailable, err)
	}
	t := memToken{providerID: acc.id}
	if ttl > 0 {
		t.expiresAt = core.Now().Add(ttl)
	}
	if kind == "verify" {
		p.verifyTokens[token] = t
	} else {
		p.resetTokens[token] = t
	}
	p.lastTokens[kind+":"+acc.email] = token
	return token, nil
}

func (p *MemoryProvider) mail(to, subject, tmpl, path, token string) {
	if p.mailSvc == nil {
		return
	}
	q := make(url.Values)
	q.Set("token", token)
	p.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Address: to}},
		Subject:      subject,
		TemplateName: tmpl,
		TemplateData: map[string]string{"link": p.frontendURL + path + "?" + q.Encode()},
	})
}

func (p *MemoryProvider) CreateAccount(_ context.Context, email, password string, meta user.Metadata) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.unavailable(); err != nil {
		return "", err
	}

	email = core.CleanEmail(email)
	if _, ok := p.accounts[email]; ok {
		return "", user.NewProviderError(user.ProviderEmailExists, nil)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return "", user.NewProviderError(user.ProviderRejected, err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		return "", user.NewProviderError(user.ProviderRejected, err)
	}

	acc := &memAccount{id: uuid.New().String(), email: email, hash: hash, meta: meta}
	p.accounts[email] = acc
	token, err := p.issue("verify", acc, 0)
	if err != nil {
		return "", err
	}
	p.mail(email, "Confirm your email address", "email_verification", "/verify-email", token)
	return acc.id, nil
}

func (p *MemoryProvider) Authenticate(_ context.Context, email, password string) (user.AuthResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.unavailable(); err != nil {
		return user.AuthResult{}, err
	}

	acc, ok := p.accounts[core.CleanEmail(email)]
	if !ok || bcrypt.CompareHashAndPassword(acc.hash, []byte(password)) != nil {
		return user.AuthResult{}, user.NewProviderError(user.ProviderInvalidCredentials, nil)
	}
	return user.AuthResult{ProviderID: acc.id, Email: acc.email, Confirmed: acc.confirmed, Metadata: acc.meta}, nil
}

func (p *MemoryProvider) SendVerification(_ context.Context, email string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.unavailable(); err != nil {
		return err
	}

	acc, ok := p.accounts[core.CleanEmail(email)]
	if !ok || acc.confirmed {
		return nil
	}
	token, err := p.issue("verify", acc, 0)
	if err != nil {
		return err
	}
	p.mail(acc.email, "Confirm your email address", "email_verification", "/verify-email", token)
	return nil
}

func (p *MemoryProvider) RedeemVerification(_ context.Context, token string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.unavailable(); err != nil {
		return "", err
	}

	t, ok := p.verifyTokens[token]
	if !ok {
		return "", user.NewProviderError(user.ProviderInvalidToken, nil)
	}
	delete(p.verifyTokens, token)
	for _, acc := range p.accounts {
		if acc.id == t.providerID {
			acc.confirmed = true
			break
		}
	}
	return t.providerID, nil
}

func (p *MemoryProvider) RequestPasswordReset(_ context.Context, email string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.unavailable(); err != nil {
		return err
	}

	acc, ok := p.accounts[core.CleanEmail(email)]
	if !ok {
		return nil
	}
	token, err := p.issue("reset", acc, p.resetTTL)
	if err != nil {
		return err
	}
	p.mail(acc.email, "Reset your password", "password_reset", "/reset-password", token)
	return nil
}

func (p *MemoryProvider) ApplyPasswordReset(_ context.Context, token, newPassword string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.unavailable(); err != nil {
		return "", err
	}

	t, ok := p.resetTokens[token]
	if !ok {
		return "", user.NewProviderError(user.ProviderInvalidToken, nil)
	}
	if core.Now().After(t.expiresAt) {
		delete(p.resetTokens, token)
		return "", user.NewProviderError(user.ProviderInvalidToken, errors.New("token expired"))
	}
	if strings.TrimSpace(newPassword) == "" {
		return "", user.NewProviderError(user.ProviderRejected, errors.New("empty password"))
	}

	for _, acc := range p.accounts {
		if acc.id != t.providerID {
			continue
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), p.cost)
		if err != nil {
			return "", user.NewProviderError(user.ProviderRejected, err)
		}
		acc.hash = hash
		// a successful reset proves ownership of the mailbox
		acc.confirmed = true
		delete(p.resetTokens, token)
		return acc.id, nil
	}
	return "", user.NewProviderError(user.ProviderInvalidToken, errors.New("account removed"))
}
