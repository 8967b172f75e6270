package echoapi

import (
	"context"
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/trezcool/masomo-identity/core"
	"github.com/trezcool/masomo-identity/core/auth"
	"github.com/trezcool/masomo-identity/core/family"
	"github.com/trezcool/masomo-identity/core/user"
	"github.com/trezcool/masomo-identity/services/ratelimit"
)

type (
	// IdentityService is the part of user.Service the API needs.
	IdentityService interface {
		Register(ctx context.Context, na user.NewAccount) (user.Session, error)
		Login(ctx context.Context, email, pwd string) (user.Session, error)
		VerifyEmail(ctx context.Context, token string) (user.Account, error)
		ResendVerification(ctx context.Context, email string)
		RequestPasswordReset(ctx context.Context, email string)
		ResetPassword(ctx context.Context, rp user.ResetPassword) error
		GetByID(ctx context.Context, id string) (user.Account, error)
	}

	// FamilyService is the part of family.Service the API needs.
	FamilyService interface {
		VerifyConnection(ctx context.Context, req family.VerifyRequest) (family.Connection, error)
		GetChildrenFor(ctx context.Context, parentID string) ([]family.Child, error)
	}

	Options struct {
		Address        string
		Debug          bool
		TestMode       bool
		DisableReqLogs bool
		SignalShutdown func()
		Logger         core.Logger
		Codec          *auth.Codec
		Limiter        ratelimit.Limiter
		Validate       *validator.Validate
		Translator     ut.Translator
		UserSvc        IdentityService
		FamilySvc      FamilyService
	}

	Server interface {
		http.Handler
		Start()
		Stop(context.Context) error
	}

	server struct {
		opts *Options
		app  *echo.Echo
	}
)

var (
	_ IdentityService = (*user.Service)(nil)
	_ FamilyService   = (*family.Service)(nil)
	_ Server          = (*server)(nil)
)

func NewServer(opts *Options) Server {
	if opts.SignalShutdown == nil {
		opts.SignalShutdown = func() {}
	}
	s := &server{
		opts: opts,
		app:  echo.New(),
	}
	s.setup()
	return s
}

func (s *server) setup() {
	s.app.Pre(middleware.RemoveTrailingSlash())
	if !s.opts.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(s.opts.Debug || s.opts.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.opts.Logger, s.opts.SignalShutdown)
	s.app.Debug = s.opts.Debug
	s.app.HideBanner = s.opts.TestMode

	s.app.GET("/", home)

	v1 := s.app.Group("/v1")
	authn := authMiddleware(s.opts.Codec)
	limit := func(scope string) echo.MiddlewareFunc {
		return rateLimitMiddleware(s.opts.Limiter, scope, s.opts.Logger)
	}

	registerUserAPI(v1, authn, limit, s.opts.UserSvc, s.opts.Validate, s.opts.Translator)
	registerFamilyAPI(v1, authn, s.opts.FamilySvc)
}

func (s *server) Start() {
	if err := s.app.Start(s.opts.Address); err != nil && err != http.ErrServerClosed {
		s.app.Logger.Fatal(err)
	}
}

func (s *server) Stop(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to Masomo Identity API!")
}
