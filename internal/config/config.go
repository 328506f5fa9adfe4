// Package config defines the necessary types to configure the application.
// An example config file config.yaml is provided in the repository.
package config

import (
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
)

// Profile store types.
const (
	ProfileStorePostgres = "postgres"
	ProfileStoreValkey   = "valkey"
)

type Config struct {
	commoncfg.BaseConfig `mapstructure:",squash" yaml:",inline"`

	HTTP HTTPServer `yaml:"http"`

	Database         Database         `yaml:"database"`
	ValKey           ValKey           `yaml:"valkey"`
	IdentityProvider IdentityProvider `yaml:"identityProvider"`
	Site             Site             `yaml:"site"`
	State            State            `yaml:"state"`
	Cookies          Cookies          `yaml:"cookies"`
	ProfileStore     ProfileStore     `yaml:"profileStore"`
	ContactSync      ContactSync      `yaml:"contactSync"`
}

type HTTPServer struct {
	Address           string        `yaml:"address" default:":8080"`
	ShutdownTimeout   time.Duration `yaml:"shutdownTimeout" default:"5s"`
	ReadHeaderTimeout time.Duration `yaml:"readHeaderTimeout" default:"10s"`
	CORS              CORS          `yaml:"cors"`
}

// CORS configures the cross-origin policy of the profile endpoint.
type CORS struct {
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

type Database struct {
	Name     string              `yaml:"name"`
	Port     string              `yaml:"port"`
	Host     commoncfg.SourceRef `yaml:"host"`
	User     commoncfg.SourceRef `yaml:"user"`
	Password commoncfg.SourceRef `yaml:"password"`
}

type ValKey struct {
	Host     commoncfg.SourceRef `yaml:"host"`
	User     commoncfg.SourceRef `yaml:"user"`
	Password commoncfg.SourceRef `yaml:"password"`
	Prefix   string              `yaml:"prefix" default:"auth-gateway:"`
}

// IdentityProvider describes the hosted OAuth2 authorization server and its
// token issuer.
type IdentityProvider struct {
	Domain       string              `yaml:"domain"`
	ClientID     commoncfg.SourceRef `yaml:"clientID"`
	RedirectURI  string              `yaml:"redirectURI"`
	Issuer       string              `yaml:"issuer"`
	Scopes       []string            `yaml:"scopes"`
	Timeout      time.Duration       `yaml:"timeout" default:"10s"`
	JWKSCacheTTL time.Duration       `yaml:"jwksCacheTTL" default:"1h"`
}

type Site struct {
	BaseURL         string `yaml:"baseURL"`
	DefaultRedirect string `yaml:"defaultRedirect" default:"/learn"`
	Realm           string `yaml:"realm" default:"auth-gateway"`
}

type State struct {
	Secret commoncfg.SourceRef `yaml:"secret"`
	TTL    time.Duration       `yaml:"ttl" default:"10m"`
}

type Cookies struct {
	AccessToken  CookieTemplate `yaml:"accessToken"`
	RefreshToken CookieTemplate `yaml:"refreshToken"`
}

type ProfileStore struct {
	Type    string        `yaml:"type" default:"postgres"`
	Timeout time.Duration `yaml:"timeout" default:"5s"`
}

type ContactSync struct {
	Enabled bool                `yaml:"enabled"`
	BaseURL string              `yaml:"baseURL"`
	Token   commoncfg.SourceRef `yaml:"token"`
	Timeout time.Duration       `yaml:"timeout" default:"5s"`
}

// ApplyDefaults fills values left empty by the configuration file.
// A cookie template without a name is replaced as a whole.
func ApplyDefaults(cfg *Config) {
	if cfg.Cookies.AccessToken.Name == "" {
		cfg.Cookies.AccessToken = DefaultAccessTokenCookie()
	}
	if cfg.Cookies.RefreshToken.Name == "" {
		cfg.Cookies.RefreshToken = DefaultRefreshTokenCookie()
	}

	setDefault(&cfg.HTTP.Address, ":8080")
	setDefault(&cfg.HTTP.ShutdownTimeout, 5*time.Second)
	setDefault(&cfg.HTTP.ReadHeaderTimeout, 10*time.Second)
	setDefault(&cfg.IdentityProvider.Timeout, 10*time.Second)
	setDefault(&cfg.IdentityProvider.JWKSCacheTTL, time.Hour)
	setDefault(&cfg.Site.DefaultRedirect, "/learn")
	setDefault(&cfg.Site.Realm, "auth-gateway")
	setDefault(&cfg.State.TTL, 10*time.Minute)
	setDefault(&cfg.ProfileStore.Type, ProfileStorePostgres)
	setDefault(&cfg.ProfileStore.Timeout, 5*time.Second)
	setDefault(&cfg.ContactSync.Timeout, 5*time.Second)
}

func setDefault[T comparable](field *T, value T) {
	var zero T
	if *field == zero {
		*field = value
	}
}
