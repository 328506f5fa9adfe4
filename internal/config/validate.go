package config

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
)

const minStateSecretLength = 32

var ErrInvalidConfig = errors.New("invalid configuration")

// Validate checks the values the gateway cannot start without. Secrets are
// resolved so that a broken source reference fails at startup.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.IdentityProvider.Domain == "" {
		errs = append(errs, errors.New("identityProvider.domain is required"))
	}
	if cfg.IdentityProvider.Issuer == "" {
		errs = append(errs, errors.New("identityProvider.issuer is required"))
	}
	if err := requireAbsoluteURL(cfg.IdentityProvider.RedirectURI); err != nil {
		errs = append(errs, fmt.Errorf("identityProvider.redirectURI: %w", err))
	}
	if err := requireAbsoluteURL(cfg.Site.BaseURL); err != nil {
		errs = append(errs, fmt.Errorf("site.baseURL: %w", err))
	}

	if clientID, err := commoncfg.LoadValueFromSourceRef(cfg.IdentityProvider.ClientID); err != nil {
		errs = append(errs, fmt.Errorf("identityProvider.clientID: %w", err))
	} else if len(clientID) == 0 {
		errs = append(errs, errors.New("identityProvider.clientID is required"))
	}

	if secret, err := commoncfg.LoadValueFromSourceRef(cfg.State.Secret); err != nil {
		errs = append(errs, fmt.Errorf("state.secret: %w", err))
	} else if len(secret) < minStateSecretLength {
		errs = append(errs, fmt.Errorf("state.secret must be at least %d bytes", minStateSecretLength))
	}

	switch cfg.ProfileStore.Type {
	case ProfileStorePostgres:
		if err := requireSourceRef(cfg.Database.Host); err != nil {
			errs = append(errs, fmt.Errorf("database.host: %w", err))
		}
		if cfg.Database.Name == "" {
			errs = append(errs, errors.New("database.name is required"))
		}
	case ProfileStoreValkey:
		if err := requireSourceRef(cfg.ValKey.Host); err != nil {
			errs = append(errs, fmt.Errorf("valkey.host: %w", err))
		}
	default:
		errs = append(errs, fmt.Errorf("profileStore.type %q is not supported", cfg.ProfileStore.Type))
	}

	if cfg.ContactSync.Enabled {
		if token, err := commoncfg.LoadValueFromSourceRef(cfg.ContactSync.Token); err != nil {
			errs = append(errs, fmt.Errorf("contactSync.token: %w", err))
		} else if len(token) == 0 {
			errs = append(errs, errors.New("contactSync.token is required when contact sync is enabled"))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}

	return nil
}

func requireSourceRef(ref commoncfg.SourceRef) error {
	value, err := commoncfg.LoadValueFromSourceRef(ref)
	if err != nil {
		return err
	}
	if len(value) == 0 {
		return errors.New("value is required")
	}

	return nil
}

func requireAbsoluteURL(raw string) error {
	if raw == "" {
		return errors.New("value is required")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme == "" || u.Host == "" {
		return errors.New("must be an absolute URL")
	}

	return nil
}
