package main

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os/signal"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	dig_container "github.com/trezcool/masomo-identity/apps/api/di/dig"
	echoapi "github.com/trezcool/masomo-identity/apps/api/echo"
	"github.com/trezcool/masomo-identity/core"
	"github.com/trezcool/masomo-identity/core/family"
	"github.com/trezcool/masomo-identity/core/user"
	"github.com/trezcool/masomo-identity/storage/database"
)

func main() {
	c := dig_container.New()
	must(c.Invoke(run))
}

func run(
	conf *core.Config,
	apiLogger core.Logger,
	dbLoggerParam dig_container.DBLoggerParam,
	stores dig_container.Stores,
	validate *validator.Validate,
	translator ut.Translator,
	closeLimiter dig_container.Closer,
	shutdown dig_container.ShutdownChan,
	server echoapi.Server,
	_ *family.Service, // forces the parent linker into registration
) {
	// =========================================================================
	// Initialize App

	apiLogger.Info(fmt.Sprintf("Application initializing : version %q env %q", conf.Build, conf.Env))

	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)

	core.ParseEmailTemplates(conf, apiLogger)

	user.LoadCommonPasswords(apiLogger)

	dbLogger := dbLoggerParam.Logger
	if stores.DB != nil {
		if err := database.Migrate(stores.DB); err != nil {
			dbLogger.Fatal("migrating database", err)
		}
	}
	defer func() {
		if stores.DB == nil {
			return
		}
		if err := stores.DB.Close(); err != nil {
			dbLogger.Error("Failed to close", err)
		}
	}()
	defer func() {
		if err := closeLimiter(); err != nil {
			apiLogger.Error("closing rate limiter", err)
		}
	}()
	defer apiLogger.Info("Application stopped")

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	// Expose important info under /debug/vars.
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			apiLogger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start API Service

	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	go server.Start()

	// =========================================================================
	// Shutdown

	sig := <-shutdown
	apiLogger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

	// give outstanding requests a deadline for completion
	ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		apiLogger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)
	}
}

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
