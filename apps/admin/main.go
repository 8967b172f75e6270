package main

import (
	"log"
	"os"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	dig_container "github.com/trezcool/masomo-identity/apps/api/di/dig"
	"github.com/trezcool/masomo-identity/core"
	"github.com/trezcool/masomo-identity/core/family"
	"github.com/trezcool/masomo-identity/core/user"
)

var logger = log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)

var errMemoryEngine = errors.New("admin commands need a persistent store: set database.engine=" + core.EnginePostgres)

func main() {
	cli, err := newCommandLine(dig_container.New())
	if err != nil {
		logger.Fatal(err)
	}

	err = cli.run(os.Args)
	_ = cli.db.Close()
	if err != nil {
		if err != errHelp {
			logger.Printf("\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}

// newCommandLine resolves the CLI dependencies from the API container so both processes share one wiring.
func newCommandLine(c *dig.Container) (*commandLine, error) {
	var cli *commandLine
	err := c.Invoke(func(
		conf *core.Config,
		appLogger core.Logger,
		stores dig_container.Stores,
		validate *validator.Validate,
		translator ut.Translator,
		usrSvc *user.Service,
		_ *family.Service, // plugs the parent linker into registration
	) error {
		if stores.DB == nil {
			return errMemoryEngine
		}

		core.InitValidators(validate, translator)
		user.InitValidators(validate, translator)
		core.ParseEmailTemplates(conf, appLogger)
		user.LoadCommonPasswords(appLogger)

		cli = &commandLine{
			db:         stores.DB,
			usrSvc:     usrSvc,
			validate:   validate,
			translator: translator,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cli, nil
}
