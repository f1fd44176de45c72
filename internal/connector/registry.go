package connector

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/licita-cli/internal/cache"
	"github.com/sells-group/licita-cli/internal/config"
	"github.com/sells-group/licita-cli/internal/fetcher"
	"github.com/sells-group/licita-cli/internal/model"
	"github.com/sells-group/licita-cli/internal/resilience"
)

// New builds the connector for src with its own throttled HTTP client.
func New(src model.Source, cfg config.ConnectorsConfig, c cache.Cache, ttl time.Duration) (Connector, error) {
	var sc config.SourceConfig
	switch src {
	case model.SourcePNCP:
		sc = cfg.PNCP
	case model.SourceComprasGov:
		sc = cfg.ComprasGov
	default:
		return nil, eris.Errorf("connector: unknown source %q", src)
	}

	retry, breaker := resilience.FromSourceConfig(sc.MaxRetries, sc.TimeoutSecs)
	client := fetcher.NewClient(fetcher.Options{
		Name:          string(src),
		BaseURL:       sc.BaseURL,
		UserAgent:     cfg.UserAgent,
		RatePerMinute: sc.RateLimitRPM,
		Timeout:       time.Duration(sc.TimeoutSecs) * time.Second,
		Retry:         retry,
		Breaker:       resilience.NewCircuitBreaker(breaker),
		Cache:         c,
		CacheTTL:      ttl,
	})

	if src == model.SourcePNCP {
		return NewPNCP(client, sc.PageSize), nil
	}
	return NewComprasGov(client, sc.PageSize), nil
}
