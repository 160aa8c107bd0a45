package core

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
)

// Config carries the node-level settings the federation core needs. BaseURL
// defines the local authority used for resolution short-circuiting.
type Config struct {
	ServiceName         string        `koanf:"service_name" mapstructure:"service_name"`
	BaseURL             string        `koanf:"base_url" mapstructure:"base_url"`
	MaxResolutionDepth  int           `koanf:"max_resolution_depth" mapstructure:"max_resolution_depth"`
	RequestTimeout      time.Duration `koanf:"request_timeout" mapstructure:"request_timeout"`
	MaxObjectBytes      int64         `koanf:"max_object_bytes" mapstructure:"max_object_bytes"`
	MediaResolveTimeout time.Duration `koanf:"media_resolve_timeout" mapstructure:"media_resolve_timeout"`
	QueueName           string        `koanf:"queue_name" mapstructure:"queue_name"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName:         "federation",
		MaxResolutionDepth:  8,
		RequestTimeout:      10 * time.Second,
		MaxObjectBytes:      1 << 20,
		MediaResolveTimeout: 30 * time.Second,
		QueueName:           "federation.inbox",
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if strings.TrimSpace(c.BaseURL) == "" {
		return fmt.Errorf("core: base_url is required")
	}
	parsed, err := url.Parse(strings.TrimSpace(c.BaseURL))
	if err != nil || parsed.Host == "" || parsed.Scheme == "" {
		return fmt.Errorf("core: base_url must be an absolute url")
	}
	if c.MaxResolutionDepth <= 0 {
		return fmt.Errorf("core: max_resolution_depth must be positive")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("core: request_timeout must be positive")
	}
	if c.MaxObjectBytes <= 0 {
		return fmt.Errorf("core: max_object_bytes must be positive")
	}
	return nil
}

// LocalAuthority returns the host[:port] of BaseURL, lowercased, used to
// decide whether a reference points at this node.
func (c Config) LocalAuthority() string {
	parsed, err := url.Parse(strings.TrimSpace(c.BaseURL))
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Host)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}
