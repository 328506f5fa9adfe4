package business

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/valkey-io/valkey-go"

	otlpaudit "github.com/openkcm/common-sdk/pkg/otlp/audit"
	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/auth-gateway/internal/business/server"
	"github.com/openkcm/auth-gateway/internal/config"
	"github.com/openkcm/auth-gateway/internal/contactsync"
	"github.com/openkcm/auth-gateway/internal/idp"
	"github.com/openkcm/auth-gateway/internal/jwks"
	"github.com/openkcm/auth-gateway/internal/profile"
	profilesql "github.com/openkcm/auth-gateway/internal/profile/sql"
	profilevalkey "github.com/openkcm/auth-gateway/internal/profile/valkey"
	"github.com/openkcm/auth-gateway/internal/session"
	"github.com/openkcm/auth-gateway/internal/state"
	"github.com/openkcm/auth-gateway/internal/token"
)

var ErrUnknownProfileStore = errors.New("unknown profile store type")

// Main starts the public auth API server and blocks until ctx is done.
func Main(ctx context.Context, cfg *config.Config) error {
	repo, closeFn, err := initProfileRepository(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialising the profile store: %w", err)
	}

	defer closeFn()

	sessionManager, err := initSessionManager(cfg, repo)
	if err != nil {
		return fmt.Errorf("initialising the session manager: %w", err)
	}

	return server.StartHTTPServer(ctx, cfg, sessionManager)
}

// initProfileRepository connects the configured profile store.
func initProfileRepository(ctx context.Context, cfg *config.Config) (_ profile.Repository, closeFn func(), _ error) {
	switch cfg.ProfileStore.Type {
	case config.ProfileStorePostgres:
		connStr, err := config.MakeConnStr(cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("making dsn from config: %w", err)
		}

		poolCfg, err := pgxpool.ParseConfig(connStr)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing pgxpool config: %w", err)
		}

		poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

		db, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("initialising pgxpool connection: %w", err)
		}

		if err := otelpgx.RecordStats(db); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("recording pgxpool stats: %w", err)
		}

		slogctx.Info(ctx, "Using the PostgreSQL profile store")

		return profilesql.NewRepository(db), db.Close, nil
	case config.ProfileStoreValkey:
		valkeyOpts, err := config.MakeValkeyOptions(cfg.ValKey)
		if err != nil {
			return nil, nil, fmt.Errorf("making valkey options from config: %w", err)
		}

		valkeyClient, err := valkey.NewClient(valkeyOpts)
		if err != nil {
			return nil, nil, fmt.Errorf("creating a new valkey client: %w", err)
		}

		slogctx.Info(ctx, "Using the Valkey profile store", "prefix", cfg.ValKey.Prefix)

		return profilevalkey.NewRepository(valkeyClient, cfg.ValKey.Prefix), valkeyClient.Close, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownProfileStore, cfg.ProfileStore.Type)
	}
}

func initSessionManager(cfg *config.Config, repo profile.Repository) (*session.Manager, error) {
	clientID, err := commoncfg.LoadValueFromSourceRef(cfg.IdentityProvider.ClientID)
	if err != nil {
		return nil, fmt.Errorf("loading client id: %w", err)
	}

	stateSecret, err := commoncfg.LoadValueFromSourceRef(cfg.State.Secret)
	if err != nil {
		return nil, fmt.Errorf("loading state secret: %w", err)
	}

	idpHTTPClient := &http.Client{Timeout: cfg.IdentityProvider.Timeout}

	idpClient, err := idp.NewClient(idp.Config{
		Domain:      cfg.IdentityProvider.Domain,
		ClientID:    string(clientID),
		RedirectURI: cfg.IdentityProvider.RedirectURI,
		Scopes:      cfg.IdentityProvider.Scopes,
	}, idpHTTPClient)
	if err != nil {
		return nil, fmt.Errorf("creating identity provider client: %w", err)
	}

	keys := jwks.NewCache(
		jwks.URLFromIssuer(cfg.IdentityProvider.Issuer),
		jwks.WithHTTPClient(idpHTTPClient),
		jwks.WithTTL(cfg.IdentityProvider.JWKSCacheTTL),
	)

	codec, err := state.NewCodec(stateSecret, state.WithTTL(cfg.State.TTL))
	if err != nil {
		return nil, fmt.Errorf("creating state codec: %w", err)
	}

	syncer, err := loadContactSyncer(cfg)
	if err != nil {
		return nil, fmt.Errorf("loading contact syncer: %w", err)
	}

	auditLogger, err := otlpaudit.NewLogger(&cfg.Audit)
	if err != nil {
		return nil, fmt.Errorf("creating audit logger: %w", err)
	}

	sManager, err := session.NewManager(
		session.Config{
			SiteURL:       cfg.Site.BaseURL,
			Landing:       cfg.Site.DefaultRedirect,
			ClientID:      string(clientID),
			AccessCookie:  cfg.Cookies.AccessToken,
			RefreshCookie: cfg.Cookies.RefreshToken,
		},
		idpClient,
		token.NewVerifier(keys, cfg.IdentityProvider.Issuer),
		codec,
		profile.NewService(repo, profile.WithTimeout(cfg.ProfileStore.Timeout)),
		session.WithContactSyncer(syncer),
		session.WithAuditLogger(auditLogger),
	)
	if err != nil {
		return nil, fmt.Errorf("creating session manager: %w", err)
	}

	return sManager, nil
}

func loadContactSyncer(cfg *config.Config) (contactsync.Syncer, error) {
	if !cfg.ContactSync.Enabled {
		return contactsync.Noop{}, nil
	}

	apiToken, err := commoncfg.LoadValueFromSourceRef(cfg.ContactSync.Token)
	if err != nil {
		return nil, fmt.Errorf("loading contact sync token: %w", err)
	}

	return contactsync.NewHubSpot(
		cfg.ContactSync.BaseURL,
		string(apiToken),
		&http.Client{Timeout: cfg.ContactSync.Timeout},
	), nil
}
