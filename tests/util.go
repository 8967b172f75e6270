package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/masomo-identity/core"
	"github.com/trezcool/masomo-identity/core/auth"
	"github.com/trezcool/masomo-identity/core/family"
	"github.com/trezcool/masomo-identity/core/user"
	"github.com/trezcool/masomo-identity/services/email"
	"github.com/trezcool/masomo-identity/services/identity"
	"github.com/trezcool/masomo-identity/storage/database/inmemdb"
)

// Env is a fully wired set of services backed by in-memory storage and the memory provider.
type Env struct {
	Conf       *core.Config
	Logger     core.Logger
	DB         *inmemdb.DB
	AccRepo    user.Repository
	FamRepo    family.Repository
	Provider   *identitysvc.MemoryProvider
	Mail       *emailsvc.ConsoleServiceMock
	Codec      *auth.Codec
	UserSvc    *user.Service
	FamilySvc  *family.Service
	Validate   *validator.Validate
	Translator ut.Translator
}

func NewEnv(t *testing.T) *Env {
	t.Helper()

	conf := core.NewTestConfig()
	logger := core.NewStdLogger(nil)
	core.ParseEmailTemplates(conf, logger)
	user.LoadCommonPasswords(logger)

	db := inmemdb.NewDB()
	accRepo := inmemdb.NewAccountRepository(db)
	famRepo := inmemdb.NewFamilyRepository(db)
	mailSvc := emailsvc.NewConsoleServiceMock(conf, logger)
	provider := identitysvc.NewMemoryProvider(conf, mailSvc)
	codec := auth.NewCodecFromConfig(conf)

	usrSvc := user.NewService(conf, accRepo, provider, codec, logger)
	famSvc := family.NewService(conf, famRepo, usrSvc, emailsvc.NewInvitationNotifier(mailSvc), logger)
	usrSvc.SetParentLinker(famSvc)

	translator, _ := ut.New(en.New()).GetTranslator("en")
	validate := validator.New()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)

	return &Env{
		Conf:       conf,
		Logger:     logger,
		DB:         db,
		AccRepo:    accRepo,
		FamRepo:    famRepo,
		Provider:   provider,
		Mail:       mailSvc,
		Codec:      codec,
		UserSvc:    usrSvc,
		FamilySvc:  famSvc,
		Validate:   validate,
		Translator: translator,
	}
}

// CreateAccount inserts an account straight into the repository, bypassing the provider.
func CreateAccount(t *testing.T, repo user.Repository, email, pwd, role string, isActive, isVerified bool, createdAt ...time.Time) user.Account {
	t.Helper()

	tstamp := core.Now()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	acc := user.Account{
		ProviderID: "local-" + email,
		Email:      core.CleanEmail(email),
		FirstName:  "Test",
		LastName:   "Account",
		Role:       role,
		IsActive:   isActive,
		IsVerified: isVerified,
		CreatedAt:  tstamp,
		UpdatedAt:  tstamp,
	}
	if pwd != "" {
		if err := acc.SetPassword(pwd, 4); err != nil {
			t.Fatalf("CreateAccount() failed: %v", err)
		}
	}
	acc, err := repo.CreateAccount(context.Background(), acc)
	if err != nil {
		t.Fatalf("CreateAccount() failed: %v", err)
	}
	return acc
}

// Register goes through the identity service, confirms the email when verified is set, and returns the account.
func (env *Env) Register(t *testing.T, email, pwd, role, parentEmail string, verified bool) user.Account {
	t.Helper()

	ctx := context.Background()
	sess, err := env.UserSvc.Register(ctx, user.NewAccount{
		Email:           email,
		Password:        pwd,
		PasswordConfirm: pwd,
		FirstName:       "Test",
		LastName:        "Account",
		Role:            role,
		ParentEmail:     parentEmail,
	})
	if err != nil {
		t.Fatalf("Register(%s) failed: %v", email, err)
	}
	if !verified {
		return sess.Account
	}
	acc, err := env.UserSvc.VerifyEmail(ctx, env.Provider.VerificationToken(email))
	if err != nil {
		t.Fatalf("VerifyEmail(%s) failed: %v", email, err)
	}
	return acc
}
