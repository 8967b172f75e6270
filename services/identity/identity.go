package identitysvc

import (
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-identity/core"
	"github.com/trezcool/masomo-identity/core/user"
)

// New returns the provider selected by conf.Provider.Kind, refusing settings that cannot work together.
func New(conf *core.Config, mailSvc core.EmailService) (user.Provider, error) {
	if err := conf.Check(); err != nil {
		return nil, errors.Wrap(err, "identity provider")
	}
	if conf.Provider.Kind == core.ProviderGoTrue {
		return NewGoTrueProvider(conf), nil
	}
	return NewMemoryProvider(conf, mailSvc), nil
}
