package user_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-identity/core"
	"github.com/trezcool/masomo-identity/core/user"
	"github.com/trezcool/masomo-identity/tests"
)

const pwd = "Str0ng#Pass-2026"

func newAccount(email, role string) user.NewAccount {
	return user.NewAccount{
		Email:           email,
		Password:        pwd,
		PasswordConfirm: pwd,
		FirstName:       "Amani",
		LastName:        "Juma",
		Role:            role,
	}
}

func TestService_RegisterThenLogin(t *testing.T) {
	ctx := context.Background()

	for _, role := range user.SelfServiceRoles {
		t.Run(role, func(t *testing.T) {
			env := testutil.NewEnv(t)
			email := role + "@test.cd"

			sess, err := env.UserSvc.Register(ctx, newAccount(email, role))
			require.NoError(t, err)
			assert.NotEmpty(t, sess.Token)
			assert.False(t, sess.Account.IsVerified)
			assert.Nil(t, sess.Account.PasswordHash)

			_, err = env.UserSvc.VerifyEmail(ctx, env.Provider.VerificationToken(email))
			require.NoError(t, err)

			sess2, err := env.UserSvc.Login(ctx, "  "+email+" ", pwd)
			require.NoError(t, err)
			assert.NotNil(t, sess2.Account.LastLogin)

			claims, err := env.Codec.VerifySession(sess2.Token)
			require.NoError(t, err)
			assert.Equal(t, sess.Account.ID, claims.Subject)
			assert.Equal(t, role, claims.Role)
		})
	}
}

func TestService_Register_duplicateEmail(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewEnv(t)

	_, err := env.UserSvc.Register(ctx, newAccount("amani@test.cd", user.RoleTeacher))
	require.NoError(t, err)

	_, err = env.UserSvc.Register(ctx, newAccount("AMANI@test.cd", user.RoleStudent))
	assert.Equal(t, user.ErrRegistrationFailed, err)
	assert.True(t, core.IsKind(err, core.KindConflict))

	// provider-only account, e.g. left behind by a failed local write
	_, err = env.Provider.CreateAccount(ctx, "orphan@test.cd", pwd, user.Metadata{Role: user.RoleParent})
	require.NoError(t, err)
	_, err = env.UserSvc.Register(ctx, newAccount("orphan@test.cd", user.RoleParent))
	assert.Equal(t, user.ErrRegistrationFailed, err)
}

func TestService_Register_providerFailureIsNotRetried(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewEnv(t)
	env.Provider.FailNext(2)

	// each registration consumes exactly one provider call
	_, err := env.UserSvc.Register(ctx, newAccount("amani@test.cd", user.RoleTeacher))
	assert.True(t, core.IsKind(err, core.KindInternal))
	_, err = env.UserSvc.Register(ctx, newAccount("amani@test.cd", user.RoleTeacher))
	assert.True(t, core.IsKind(err, core.KindInternal))

	_, err = env.AccRepo.GetAccount(ctx, user.GetFilter{Email: "amani@test.cd"})
	assert.Equal(t, user.ErrNotFound, err, "no local write on provider failure")

	_, err = env.UserSvc.Register(ctx, newAccount("amani@test.cd", user.RoleTeacher))
	assert.NoError(t, err)
}

func TestService_Login_failuresAreIndistinguishable(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewEnv(t)
	env.Register(t, "amani@test.cd", pwd, user.RoleTeacher, "", true)

	_, errWrongPwd := env.UserSvc.Login(ctx, "amani@test.cd", "wrong-Pass#1")
	_, errNoAccount := env.UserSvc.Login(ctx, "nobody@test.cd", pwd)

	require.Error(t, errWrongPwd)
	assert.Equal(t, errWrongPwd, errNoAccount)
	assert.Equal(t, errWrongPwd.Error(), errNoAccount.Error())
	assert.True(t, core.IsKind(errWrongPwd, core.KindUnauthorized))
}

func TestService_Login_retriesOnce(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewEnv(t)
	env.Register(t, "amani@test.cd", pwd, user.RoleTeacher, "", true)

	env.Provider.FailNext(1)
	_, err := env.UserSvc.Login(ctx, "amani@test.cd", pwd)
	assert.NoError(t, err)

	env.Provider.FailNext(2)
	_, err = env.UserSvc.Login(ctx, "amani@test.cd", pwd)
	assert.True(t, core.IsKind(err, core.KindInternal))
}

func TestService_Login_verification(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewEnv(t)
	env.Register(t, "amani@test.cd", pwd, user.RoleTeacher, "", false)

	_, err := env.UserSvc.Login(ctx, "amani@test.cd", pwd)
	assert.Equal(t, user.ErrEmailNotVerified, err)
	assert.True(t, core.IsKind(err, core.KindForbidden))

	// confirmed at the provider only: the local flag heals on login
	env.Provider.Confirm("amani@test.cd")
	sess, err := env.UserSvc.Login(ctx, "amani@test.cd", pwd)
	require.NoError(t, err)
	assert.True(t, sess.Account.IsVerified)

	acc, err := env.AccRepo.GetAccount(ctx, user.GetFilter{Email: "amani@test.cd"})
	require.NoError(t, err)
	assert.True(t, acc.IsVerified)
}

func TestService_Login_inactive(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewEnv(t)
	acc := env.Register(t, "amani@test.cd", pwd, user.RoleTeacher, "", true)

	acc, err := env.AccRepo.GetAccount(ctx, user.GetFilter{ID: acc.ID})
	require.NoError(t, err)
	acc.IsActive = false
	_, err = env.AccRepo.UpdateAccount(ctx, acc)
	require.NoError(t, err)

	_, err = env.UserSvc.Login(ctx, "amani@test.cd", pwd)
	assert.Equal(t, user.ErrAccountInactive, err)
}

func TestService_Login_restoresMissingLocalAccount(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewEnv(t)

	providerID, err := env.Provider.CreateAccount(ctx, "neema@test.cd", pwd, user.Metadata{
		FirstName: "Neema",
		LastName:  "Bahati",
		Role:      user.RoleParent,
	})
	require.NoError(t, err)
	env.Provider.Confirm("neema@test.cd")

	sess, err := env.UserSvc.Login(ctx, "neema@test.cd", pwd)
	require.NoError(t, err)
	assert.Equal(t, user.RoleParent, sess.Account.Role)
	assert.True(t, sess.Account.IsVerified)

	acc, err := env.AccRepo.GetAccount(ctx, user.GetFilter{ProviderID: providerID})
	require.NoError(t, err)
	assert.Equal(t, sess.Account.ID, acc.ID)
	assert.Equal(t, "Neema", acc.FirstName)
	assert.NoError(t, acc.CheckPassword(pwd))

	// privileged roles are never restored from provider metadata
	_, err = env.Provider.CreateAccount(ctx, "root@test.cd", pwd, user.Metadata{Role: user.RoleAdmin})
	require.NoError(t, err)
	_, err = env.UserSvc.Login(ctx, "root@test.cd", pwd)
	assert.Equal(t, user.ErrAuthFailed, err)
}

func TestService_VerifyEmail(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewEnv(t)
	env.Register(t, "amani@test.cd", pwd, user.RoleTeacher, "", false)
	token := env.Provider.VerificationToken("amani@test.cd")

	acc, err := env.UserSvc.VerifyEmail(ctx, token)
	require.NoError(t, err)
	assert.True(t, acc.IsVerified)

	_, err = env.UserSvc.VerifyEmail(ctx, token)
	assert.Equal(t, user.ErrInvalidToken, err)
	assert.True(t, core.IsKind(err, core.KindBadRequest))

	acc, err = env.UserSvc.GetByEmail(ctx, "amani@test.cd")
	require.NoError(t, err)
	assert.True(t, acc.IsVerified, "verified flag is never flipped back")

	_, err = env.UserSvc.VerifyEmail(ctx, "  ")
	assert.Equal(t, user.ErrInvalidToken, err)
}

func TestService_VerifyEmail_redemptionIsNotRetried(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewEnv(t)
	env.Register(t, "amani@test.cd", pwd, user.RoleTeacher, "", false)
	token := env.Provider.VerificationToken("amani@test.cd")

	env.Provider.FailNext(1)
	_, err := env.UserSvc.VerifyEmail(ctx, token)
	assert.True(t, core.IsKind(err, core.KindInternal))

	acc, err := env.UserSvc.GetByEmail(ctx, "amani@test.cd")
	require.NoError(t, err)
	assert.False(t, acc.IsVerified)

	// the single failed attempt did not consume the token
	acc, err = env.UserSvc.VerifyEmail(ctx, token)
	require.NoError(t, err)
	assert.True(t, acc.IsVerified)
}

func TestService_VerifyEmail_missingLocalAccount(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewEnv(t)

	_, err := env.Provider.CreateAccount(ctx, "ghost@test.cd", pwd, user.Metadata{Role: user.RoleTeacher})
	require.NoError(t, err)

	_, err = env.UserSvc.VerifyEmail(ctx, env.Provider.VerificationToken("ghost@test.cd"))
	assert.True(t, core.IsKind(err, core.KindInternal))
}

func TestService_ResendVerification(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewEnv(t)
	env.Register(t, "amani@test.cd", pwd, user.RoleTeacher, "", false)
	first := env.Provider.VerificationToken("amani@test.cd")
	env.Mail.Reset()

	env.UserSvc.ResendVerification(ctx, "nobody@test.cd")
	assert.Empty(t, env.Mail.Sent())

	env.UserSvc.ResendVerification(ctx, "Amani@test.cd")
	if sent := env.Mail.Sent(); assert.Len(t, sent, 1) {
		assert.Equal(t, "email_verification", sent[0].TemplateName)
	}
	assert.NotEqual(t, first, env.Provider.VerificationToken("amani@test.cd"))

	env.Provider.FailNext(1)
	env.UserSvc.ResendVerification(ctx, "amani@test.cd")
	assert.Len(t, env.Mail.Sent(), 1)
}

func TestService_RequestPasswordReset(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewEnv(t)
	acc := env.Register(t, "amani@test.cd", pwd, user.RoleTeacher, "", true)
	env.Mail.Reset()

	// same outcome whether or not the email exists
	env.UserSvc.RequestPasswordReset(ctx, "nobody@test.cd")
	assert.Empty(t, env.Mail.Sent())

	env.UserSvc.RequestPasswordReset(ctx, "amani@test.cd")
	if sent := env.Mail.Sent(); assert.Len(t, sent, 1) {
		assert.Equal(t, "password_reset", sent[0].TemplateName)
		assert.Equal(t, "amani@test.cd", sent[0].To[0].Address)
	}

	stored, err := env.AccRepo.GetAccount(ctx, user.GetFilter{ID: acc.ID})
	require.NoError(t, err)
	if assert.NotNil(t, stored.ResetTokenExpiry) {
		assert.True(t, stored.ResetTokenExpiry.After(core.Now()))
	}

	// provider failures are swallowed
	env.Provider.FailNext(1)
	assert.NotPanics(t, func() { env.UserSvc.RequestPasswordReset(ctx, "amani@test.cd") })
}

func TestService_ResetPassword(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewEnv(t)
	acc := env.Register(t, "amani@test.cd", pwd, user.RoleTeacher, "", true)
	newPwd := "An0ther#Pass-2026"

	err := env.UserSvc.ResetPassword(ctx, user.ResetPassword{Token: "bogus", Password: newPwd, PasswordConfirm: newPwd})
	assert.Equal(t, user.ErrInvalidToken, err)

	env.UserSvc.RequestPasswordReset(ctx, "amani@test.cd")
	token := env.Provider.ResetToken("amani@test.cd")
	require.NotEmpty(t, token)

	err = env.UserSvc.ResetPassword(ctx, user.ResetPassword{Token: token, Password: newPwd, PasswordConfirm: newPwd})
	require.NoError(t, err)

	stored, err := env.AccRepo.GetAccount(ctx, user.GetFilter{ID: acc.ID})
	require.NoError(t, err)
	assert.NoError(t, stored.CheckPassword(newPwd))
	assert.Nil(t, stored.ResetTokenExpiry)

	_, err = env.UserSvc.Login(ctx, "amani@test.cd", pwd)
	assert.Equal(t, user.ErrAuthFailed, err)
	_, err = env.UserSvc.Login(ctx, "amani@test.cd", newPwd)
	assert.NoError(t, err)

	// tokens are single use
	err = env.UserSvc.ResetPassword(ctx, user.ResetPassword{Token: token, Password: newPwd, PasswordConfirm: newPwd})
	assert.Equal(t, user.ErrInvalidToken, err)
}

func TestService_ResetPassword_window(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewEnv(t)
	acc := env.Register(t, "amani@test.cd", pwd, user.RoleTeacher, "", true)
	newPwd := "An0ther#Pass-2026"

	now := time.Now().UTC().Truncate(time.Second)
	core.NowFunc = func() time.Time { return now }
	defer func() { core.NowFunc = time.Now }()

	// only the request window is stored locally, the token stays with the provider
	env.UserSvc.RequestPasswordReset(ctx, "amani@test.cd")
	stored, err := env.AccRepo.GetAccount(ctx, user.GetFilter{ID: acc.ID})
	require.NoError(t, err)
	if assert.NotNil(t, stored.ResetTokenExpiry) {
		assert.True(t, stored.ResetTokenExpiry.Equal(now.Add(env.Conf.PasswordResetTimeout)))
	}

	// a reset started at the provider directly still heals the local hash
	require.NoError(t, env.Provider.RequestPasswordReset(ctx, "amani@test.cd"))
	stored.ResetTokenExpiry = nil
	_, err = env.AccRepo.UpdateAccount(ctx, stored)
	require.NoError(t, err)

	err = env.UserSvc.ResetPassword(ctx, user.ResetPassword{
		Token: env.Provider.ResetToken("amani@test.cd"), Password: newPwd, PasswordConfirm: newPwd,
	})
	require.NoError(t, err)
	stored, err = env.AccRepo.GetAccount(ctx, user.GetFilter{ID: acc.ID})
	require.NoError(t, err)
	assert.NoError(t, stored.CheckPassword(newPwd))
	assert.Nil(t, stored.ResetTokenExpiry)
}

func TestService_QueryByID(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewEnv(t)
	a := testutil.CreateAccount(t, env.AccRepo, "a@test.cd", pwd, user.RoleStudent, true, true)
	b := testutil.CreateAccount(t, env.AccRepo, "b@test.cd", pwd, user.RoleStudent, true, true)

	accs, err := env.UserSvc.QueryByID(ctx, a.ID, b.ID, "unknown")
	require.NoError(t, err)
	assert.Len(t, accs, 2)
	for _, acc := range accs {
		assert.Nil(t, acc.PasswordHash)
	}

	_, err = env.UserSvc.GetByID(ctx, "unknown")
	assert.Equal(t, user.ErrNotFound, err)
}
