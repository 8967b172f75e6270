package logsvc

import (
	"log"

	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"

	"github.com/trezcool/masomo-identity/core"
	"github.com/trezcool/masomo-identity/core/user"
)

type RollbarLogger struct {
	std *log.Logger
}

var _ core.Logger = (*RollbarLogger)(nil)

func NewRollbarLogger(std *log.Logger, conf *core.Config) *RollbarLogger {
	rollbar.SetToken(conf.RollbarToken)
	rollbar.SetEnvironment(conf.Env)
	rollbar.SetServerHost(conf.Server.Host)
	rollbar.SetCodeVersion(conf.Build)
	rollbar.SetStackTracer(errors.StackTracer)
	rollbar.SetEnabled(conf.RollbarToken != "")
	return &RollbarLogger{std: std}
}

func (l RollbarLogger) Enable(enabled bool) {
	rollbar.SetEnabled(enabled)
}

// splitPerson pulls the first acting account out of args.
// Credential material never leaves the process: only id, name and email are reported.
func splitPerson(args []interface{}) (rest []interface{}, person *user.Account) {
	rest = make([]interface{}, 0, len(args))
	for _, arg := range args {
		var acc *user.Account
		switch a := arg.(type) {
		case user.Account:
			acc = &a
		case *user.Account:
			acc = a
		}
		if acc == nil {
			rest = append(rest, arg)
			continue
		}
		if person == nil {
			p := acc.Sanitize()
			person = &p
		}
	}
	return rest, person
}

// expected fmt: msg | error, map[string]interface{}, user.Account
func (l RollbarLogger) prepare(msg string, args []interface{}) []interface{} {
	rest, person := splitPerson(args)
	if person != nil {
		rollbar.SetPerson(person.ID, person.FullName(), person.Email)
	} else {
		rollbar.ClearPerson()
	}
	return append([]interface{}{msg}, rest...)
}

func (l RollbarLogger) print(level, msg string, args []interface{}) {
	l.std.Println(level + " " + msg)
	rest, person := splitPerson(args)
	for _, arg := range rest {
		l.std.Printf("%+v\n", arg)
	}
	if person != nil {
		l.std.Printf("account: id=%s role=%s\n", person.ID, person.Role)
	}
}

func (l RollbarLogger) Debug(msg string, args ...interface{}) {
	rollbar.Debug(l.prepare(msg, args)...)
	l.print("DEBUG", msg, args)
}

func (l RollbarLogger) Info(msg string, args ...interface{}) {
	rollbar.Info(l.prepare(msg, args)...)
	l.print("INFO", msg, args)
}

func (l RollbarLogger) Warn(msg string, args ...interface{}) {
	rollbar.Warning(l.prepare(msg, args)...)
	l.print("WARN", msg, args)
}

func (l RollbarLogger) Error(msg string, args ...interface{}) {
	rollbar.Error(l.prepare(msg, args)...)
	l.print("ERROR", msg, args)
}

func (l RollbarLogger) Fatal(msg string, args ...interface{}) {
	rollbar.Critical(l.prepare(msg, args)...)
	l.print("FATAL", msg, args)
	rollbar.Wait()
	l.std.Fatal(msg)
}
