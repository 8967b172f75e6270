package user

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-identity/core"
	"github.com/trezcool/masomo-identity/core/auth"
)

var (
	// errors
	ErrNotFound    = errors.New("account not found")
	ErrEmailExists = errors.New("an account with this email already exists")

	// user-facing errors; the same messages are used whatever the underlying cause
	ErrRegistrationFailed = core.NewConflictError("unable to register with the provided details")
	ErrAuthFailed         = core.NewUnauthorizedError("invalid email or password")
	ErrAccountInactive    = core.NewUnauthorizedError("account deactivated")
	ErrEmailNotVerified   = core.NewForbiddenError("email address not verified")
	ErrInvalidToken       = core.NewBadRequestError("invalid or expired token")
	ErrPasswordRejected   = core.NewBadRequestError("password rejected")
	errProviderFailure    = core.NewInternalError("identity provider unavailable")
)

type (
	Repository interface {
		// CreateAccount returns ErrEmailExists when the email is already taken (case-insensitive).
		CreateAccount(ctx context.Context, acc Account) (Account, error)
		GetAccount(ctx context.Context, filter GetFilter) (Account, error)
		QueryAccountsByID(ctx context.Context, ids ...string) ([]Account, error)
		UpdateAccount(ctx context.Context, acc Account) (Account, error)
	}

	// ParentLinker receives the family side effects of registration.
	ParentLinker interface {
		LinkParent(ctx context.Context, studentID, parentEmail, studentName string) error
		ClaimInvitations(ctx context.Context, parentID, parentEmail string) error
	}

	// Service orchestrates registration, login, email verification and password reset.
	// The Provider owns credential correctness; repo keeps the local copy consistent with it.
	Service struct {
		repo         Repository
		provider     Provider
		codec        *auth.Codec
		linker       ParentLinker
		logger       core.Logger
		bcryptCost   int
		resetTimeout time.Duration
		timeout      time.Duration
	}
)

func NewService(conf *core.Config, repo Repository, provider Provider, codec *auth.Codec, logger core.Logger) *Service {
	return &Service{
		repo:         repo,
		provider:     provider,
		codec:        codec,
		logger:       logger,
		bcryptCost:   conf.BcryptCost,
		resetTimeout: conf.PasswordResetTimeout,
		timeout:      conf.Provider.Timeout,
	}
}

// SetParentLinker plugs the family side effects in.
func (svc *Service) SetParentLinker(linker ParentLinker) {
	svc.linker = linker
}

// callProvider bounds every provider call with a timeout.
// Idempotent calls are retried once when the provider is unavailable; calls that consume state never are.
func (svc *Service) callProvider(ctx context.Context, idempotent bool, call func(ctx context.Context) error) error {
	attempts := 1
	if idempotent {
		attempts = 2
	}

	var err error
	for i := 0; i < attempts; i++ {
		pctx, cancel := context.WithTimeout(ctx, svc.timeout)
		err = call(pctx)
		cancel()
		if err == nil || ProviderErrorKindOf(err) != ProviderUnavailable || ctx.Err() != nil {
			break
		}
	}
	return err
}

func (svc *Service) Register(ctx context.Context, na NewAccount) (Session, error) {
	na.Clean()

	switch _, err := svc.repo.GetAccount(ctx, GetFilter{Email: na.Email}); {
	case err == nil:
		return Session{}, ErrRegistrationFailed
	case errors.Cause(err) != ErrNotFound:
		return Session{}, errors.Wrap(err, "checking email uniqueness")
	}

	var providerID string
	err := svc.callProvider(ctx, false, func(ctx context.Context) (err error) {
		providerID, err = svc.provider.CreateAccount(ctx, na.Email, na.Password, Metadata{
			FirstName: na.FirstName,
			LastName:  na.LastName,
			Role:      na.Role,
		})
		return err
	})
	if err != nil {
		switch ProviderErrorKindOf(err) {
		case ProviderEmailExists:
			return Session{}, ErrRegistrationFailed
		case ProviderRejected:
			return Session{}, core.NewBadRequestError("registration rejected", err)
		default:
			return Session{}, core.NewInternalError("creating provider account", err)
		}
	}

	now := core.Now()
	acc := Account{
		ProviderID: providerID,
		Email:      na.Email,
		FirstName:  na.FirstName,
		LastName:   na.LastName,
		Role:       na.Role,
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err = acc.SetPassword(na.Password, svc.bcryptCost); err != nil {
		return Session{}, errors.Wrap(err, "hashing password")
	}

	acc, err = svc.repo.CreateAccount(ctx, acc)
	if err != nil {
		if errors.Cause(err) == ErrEmailExists {
			return Session{}, ErrRegistrationFailed
		}
		// the provider account is orphaned until the next login re-creates the local row
		svc.logger.Error(fmt.Sprintf("dual-write: local account creation failed for provider id %s", providerID), err)
		return Session{}, core.NewInternalError("creating account", err)
	}

	svc.afterRegister(ctx, acc, na.ParentEmail)

	token, err := svc.codec.IssueSession(acc.ID, acc.Role)
	if err != nil {
		return Session{}, errors.Wrap(err, "issuing session")
	}
	return Session{Token: token, Account: acc.Sanitize()}, nil
}

// afterRegister runs the best-effort family side effects. Failures are logged only.
func (svc *Service) afterRegister(ctx context.Context, acc Account, parentEmail string) {
	if svc.linker == nil {
		return
	}
	switch {
	case acc.IsStudent() && parentEmail != "":
		if err := svc.linker.LinkParent(ctx, acc.ID, parentEmail, acc.FullName()); err != nil {
			svc.logger.Error(fmt.Sprintf("linking parent of student %s", acc.ID), err, acc)
		}
	case acc.IsParent():
		if err := svc.linker.ClaimInvitations(ctx, acc.ID, acc.Email); err != nil {
			svc.logger.Error(fmt.Sprintf("claiming invitations of parent %s", acc.ID), err, acc)
		}
	}
}

func (svc *Service) Login(ctx context.Context, email, pwd string) (Session, error) {
	email = core.CleanEmail(email)

	var res AuthResult
	err := svc.callProvider(ctx, true, func(ctx context.Context) (err error) {
		res, err = svc.provider.Authenticate(ctx, email, pwd)
		return err
	})
	if err != nil {
		if ProviderErrorKindOf(err) == ProviderInvalidCredentials {
			return Session{}, ErrAuthFailed
		}
		return Session{}, core.NewInternalError("authenticating", err)
	}

	acc, err := svc.repo.GetAccount(ctx, GetFilter{Email: email})
	if err != nil {
		if errors.Cause(err) != ErrNotFound {
			return Session{}, errors.Wrap(err, "finding account by email")
		}
		if acc, err = svc.restoreAccount(ctx, email, pwd, res); err != nil {
			return Session{}, err
		}
	}

	if !acc.IsActive {
		return Session{}, ErrAccountInactive
	}
	if !acc.IsVerified {
		if !res.Confirmed {
			return Session{}, ErrEmailNotVerified
		}
		svc.logger.Info(fmt.Sprintf("reconciling verified flag of account %s", acc.ID))
		acc.IsVerified = true
	}

	now := core.Now()
	if acc.resetExpired(now) {
		acc.clearReset()
	}
	acc.LastLogin = &now
	acc.UpdatedAt = now
	if acc, err = svc.repo.UpdateAccount(ctx, acc); err != nil {
		return Session{}, errors.Wrap(err, "updating account")
	}

	token, err := svc.codec.IssueSession(acc.ID, acc.Role)
	if err != nil {
		return Session{}, errors.Wrap(err, "issuing session")
	}
	return Session{Token: token, Account: acc.Sanitize()}, nil
}

// restoreAccount re-creates a local account lost to a failed dual-write, from the provider's record.
func (svc *Service) restoreAccount(ctx context.Context, email, pwd string, res AuthResult) (Account, error) {
	role := res.Metadata.Role
	if res.ProviderID == "" || !IsValidRole(role) || role == RoleAdmin {
		svc.logger.Error(fmt.Sprintf("dual-write: cannot restore account %s with role %q", res.ProviderID, role))
		return Account{}, ErrAuthFailed
	}

	now := core.Now()
	acc := Account{
		ProviderID: res.ProviderID,
		Email:      email,
		FirstName:  res.Metadata.FirstName,
		LastName:   res.Metadata.LastName,
		Role:       role,
		IsActive:   true,
		IsVerified: res.Confirmed,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := acc.SetPassword(pwd, svc.bcryptCost); err != nil {
		return Account{}, errors.Wrap(err, "hashing password")
	}
	acc, err := svc.repo.CreateAccount(ctx, acc)
	if err != nil {
		return Account{}, errors.Wrap(err, "restoring local account")
	}
	svc.logger.Warn(fmt.Sprintf("dual-write: restored local account %s for provider id %s", acc.ID, acc.ProviderID), acc)
	return acc, nil
}

func (svc *Service) VerifyEmail(ctx context.Context, token string) (Account, error) {
	token = core.CleanString(token)
	if token == "" {
		return Account{}, ErrInvalidToken
	}

	// redemption consumes the token, so it is never retried;
	// a confirmation whose response was lost heals on the next login
	var providerID string
	err := svc.callProvider(ctx, false, func(ctx context.Context) (err error) {
		providerID, err = svc.provider.RedeemVerification(ctx, token)
		return err
	})
	if err != nil {
		if ProviderErrorKindOf(err) == ProviderInvalidToken {
			return Account{}, ErrInvalidToken
		}
		return Account{}, core.NewInternalError("redeeming verification token", err)
	}

	acc, err := svc.repo.GetAccount(ctx, GetFilter{ProviderID: providerID})
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			svc.logger.Error(fmt.Sprintf("invariant violation: no local account for verified provider id %s", providerID), err)
			return Account{}, core.NewInternalError("missing local account", err)
		}
		return Account{}, errors.Wrap(err, "finding account by provider id")
	}

	if !acc.IsVerified {
		acc.IsVerified = true
		acc.UpdatedAt = core.Now()
		if acc, err = svc.repo.UpdateAccount(ctx, acc); err != nil {
			return Account{}, errors.Wrap(err, "updating account")
		}
	}
	return acc.Sanitize(), nil
}

// ResendVerification asks the provider for a new verification email.
// It never reports whether the email belongs to an account.
func (svc *Service) ResendVerification(ctx context.Context, email string) {
	email = core.CleanEmail(email)
	acc, err := svc.repo.GetAccount(ctx, GetFilter{Email: email})
	if err != nil {
		if errors.Cause(err) != ErrNotFound {
			svc.logger.Error("resend verification: finding account by email", err)
		}
		return
	}
	if acc.IsVerified || !acc.IsActive {
		return
	}
	err = svc.callProvider(ctx, false, func(ctx context.Context) error {
		return svc.provider.SendVerification(ctx, email)
	})
	if err != nil {
		svc.logger.Error("resend verification: provider failure", err, acc)
	}
}

// RequestPasswordReset starts the provider's reset flow when the email belongs to an active account.
// It never reports whether the email exists nor whether the provider failed.
func (svc *Service) RequestPasswordReset(ctx context.Context, email string) {
	email = core.CleanEmail(email)
	acc, err := svc.repo.GetAccount(ctx, GetFilter{Email: email})
	if err != nil {
		if errors.Cause(err) != ErrNotFound {
			svc.logger.Error("password reset: finding account by email", err)
		}
		return
	}
	if !acc.IsActive {
		return
	}

	// the provider owns the reset token; locally only the request window is kept
	now := core.Now()
	expiry := now.Add(svc.resetTimeout)
	acc.ResetTokenExpiry = &expiry
	acc.UpdatedAt = now
	if _, err = svc.repo.UpdateAccount(ctx, acc); err != nil {
		svc.logger.Error("password reset: updating account", err, acc)
		return
	}

	err = svc.callProvider(ctx, false, func(ctx context.Context) error {
		return svc.provider.RequestPasswordReset(ctx, email)
	})
	if err != nil {
		svc.logger.Error("password reset: provider failure", err, acc)
	}
}

func (svc *Service) ResetPassword(ctx context.Context, rp ResetPassword) error {
	var providerID string
	err := svc.callProvider(ctx, false, func(ctx context.Context) (err error) {
		providerID, err = svc.provider.ApplyPasswordReset(ctx, rp.Token, rp.Password)
		return err
	})
	if err != nil {
		switch ProviderErrorKindOf(err) {
		case ProviderInvalidToken:
			return ErrInvalidToken
		case ProviderRejected:
			return core.NewBadRequestError(ErrPasswordRejected.Error(), err)
		default:
			return core.NewInternalError("applying password reset", err)
		}
	}

	acc, err := svc.repo.GetAccount(ctx, GetFilter{ProviderID: providerID})
	if err != nil {
		// the provider already holds the new password, the local hash heals on the next restore
		svc.logger.Error(fmt.Sprintf("dual-write: no local account for reset provider id %s", providerID), err)
		return nil
	}
	if acc.ResetTokenExpiry == nil || acc.resetExpired(core.Now()) {
		svc.logger.Warn(fmt.Sprintf("password of account %s reset outside a requested window", acc.ID), acc)
	}
	if err = acc.SetPassword(rp.Password, svc.bcryptCost); err != nil {
		return errors.Wrap(err, "hashing password")
	}
	acc.clearReset()
	acc.UpdatedAt = core.Now()
	if _, err = svc.repo.UpdateAccount(ctx, acc); err != nil {
		svc.logger.Error(fmt.Sprintf("dual-write: updating local password of account %s", acc.ID), err, acc)
	}
	return nil
}

func (svc *Service) GetByID(ctx context.Context, id string) (Account, error) {
	acc, err := svc.repo.GetAccount(ctx, GetFilter{ID: id})
	if err != nil {
		return Account{}, err
	}
	return acc.Sanitize(), nil
}

func (svc *Service) GetByEmail(ctx context.Context, email string) (Account, error) {
	acc, err := svc.repo.GetAccount(ctx, GetFilter{Email: core.CleanEmail(email)})
	if err != nil {
		return Account{}, err
	}
	return acc.Sanitize(), nil
}

func (svc *Service) QueryByID(ctx context.Context, ids ...string) ([]Account, error) {
	accs, err := svc.repo.QueryAccountsByID(ctx, ids...)
	if err != nil {
		return nil, err
	}
	for i := range accs {
		accs[i] = accs[i].Sanitize()
	}
	return accs, nil
}
