package dig_container

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"syscall"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	echoapi "github.com/trezcool/masomo-identity/apps/api/echo"
	"github.com/trezcool/masomo-identity/core"
	"github.com/trezcool/masomo-identity/core/auth"
	"github.com/trezcool/masomo-identity/core/family"
	"github.com/trezcool/masomo-identity/core/user"
	emailsvc "github.com/trezcool/masomo-identity/services/email"
	identitysvc "github.com/trezcool/masomo-identity/services/identity"
	logsvc "github.com/trezcool/masomo-identity/services/logger"
	"github.com/trezcool/masomo-identity/services/ratelimit"
	"github.com/trezcool/masomo-identity/storage/database"
	boiledrepos "github.com/trezcool/masomo-identity/storage/database/boiledrepos"
	"github.com/trezcool/masomo-identity/storage/database/inmemdb"
)

type (
	DBLoggerParam struct {
		dig.In
		Logger core.Logger `name:"dbLogger"`
	}

	// Stores holds the repositories and, for Postgres, the connection pool behind them.
	Stores struct {
		DB           *sql.DB // nil for the memory engine
		Accounts     user.Repository
		Relationship family.Repository
	}

	// Closer releases a resource at shutdown.
	Closer func() error

	// ShutdownChan receives OS signals and internal shutdown requests.
	ShutdownChan chan os.Signal
)

func newLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "API : ", log.LstdFlags)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug && conf.RollbarToken != "")
	return logger
}

func newDBLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug && conf.RollbarToken != "")
	return logger
}

func newStores(conf *core.Config, loggerParam DBLoggerParam) Stores {
	if conf.Database.Engine == core.EngineMemory {
		db := inmemdb.NewDB()
		return Stores{
			Accounts:     inmemdb.NewAccountRepository(db),
			Relationship: inmemdb.NewFamilyRepository(db),
		}
	}

	setUp := func() (*sql.DB, error) {
		if err := database.CreateIfNotExist(conf); err != nil {
			return nil, err
		}
		return database.Open(conf)
	}

	db, err := setUp()
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	return Stores{
		DB:           db,
		Accounts:     boiledrepos.NewAccountRepository(db),
		Relationship: boiledrepos.NewFamilyRepository(db),
	}
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug || conf.SendgridAPIKey == "" {
		return emailsvc.NewConsoleService(conf, logger)
	}
	return emailsvc.NewSendgridService(conf, logger)
}

func newLimiter(conf *core.Config) (ratelimit.Limiter, Closer, error) {
	limiter, closeFn, err := ratelimit.New(conf)
	return limiter, Closer(closeFn), err
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}

func newUserService(conf *core.Config, stores Stores, provider user.Provider, codec *auth.Codec, logger core.Logger) *user.Service {
	return user.NewService(conf, stores.Accounts, provider, codec, logger)
}

// newFamilyService also plugs the family side effects into registration.
func newFamilyService(conf *core.Config, stores Stores, usrSvc *user.Service, notifier family.Notifier, logger core.Logger) *family.Service {
	famSvc := family.NewService(conf, stores.Relationship, usrSvc, notifier, logger)
	usrSvc.SetParentLinker(famSvc)
	return famSvc
}

func newShutdownChan() ShutdownChan {
	return make(ShutdownChan, 1)
}

func newServer(
	conf *core.Config,
	logger core.Logger,
	codec *auth.Codec,
	limiter ratelimit.Limiter,
	validate *validator.Validate,
	translator ut.Translator,
	usrSvc *user.Service,
	famSvc *family.Service,
	shutdown ShutdownChan,
) echoapi.Server {
	return echoapi.NewServer(&echoapi.Options{
		Address:  conf.Server.Host,
		Debug:    conf.Debug,
		TestMode: conf.TestMode,
		SignalShutdown: func() {
			select {
			case shutdown <- syscall.SIGTERM:
			default:
			}
		},
		Logger:     logger,
		Codec:      codec,
		Limiter:    limiter,
		Validate:   validate,
		Translator: translator,
		UserSvc:    usrSvc,
		FamilySvc:  famSvc,
	})
}

// New returns a new dependency injection dig.Container configured from the environment.
func New() *dig.Container {
	return NewWithConfig(core.NewConfig())
}

// NewWithConfig returns a container built around conf.
// Resolving anything fails when conf does not pass core.Config.Check.
func NewWithConfig(conf *core.Config) *dig.Container {
	c := dig.New()

	must(c.Provide(func() (*core.Config, error) {
		return conf, errors.Wrap(conf.Check(), "invalid configuration")
	}))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newStores))
	must(c.Provide(newEmailService))
	must(c.Provide(identitysvc.New))
	must(c.Provide(auth.NewCodecFromConfig))
	must(c.Provide(newLimiter))
	must(c.Provide(validator.New))
	must(c.Provide(newTranslator))
	must(c.Provide(emailsvc.NewInvitationNotifier, dig.As(new(family.Notifier))))
	must(c.Provide(newUserService))
	must(c.Provide(newFamilyService))
	must(c.Provide(newShutdownChan))
	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
