package app

import (
	"context"

	apphttp "github.com/yungbote/labtrace-backend/internal/http"
	httpH "github.com/yungbote/labtrace-backend/internal/http/handlers"
	"github.com/yungbote/labtrace-backend/internal/jobs"
	"github.com/yungbote/labtrace-backend/internal/pkg/dbctx"
)

func (a *App) readinessChecks() []httpH.Check {
	checks := []httpH.Check{{Name: "postgres", Fn: a.Postgres.Ping}}
	if a.Clients.Queue != nil {
		checks = append(checks, httpH.Check{Name: "redis", Fn: a.Clients.Queue.Ping})
	}
	if a.Clients.Qdrant != nil {
		checks = append(checks, httpH.Check{Name: "qdrant", Fn: a.Clients.Qdrant.Ready})
	}
	return checks
}

// OpsServer serves /healthz, /readyz and /metrics.
func (a *App) OpsServer() *apphttp.Server {
	return apphttp.NewServer(apphttp.RouterConfig{
		Log:         a.Log,
		ServiceName: a.Cfg.ServiceName,
		CORSOrigins: a.Cfg.CORSOrigins,
		Metrics:     a.Metrics,
		Checks:      a.readinessChecks(),
	})
}

// StartCollectors begins background sampling for the metrics endpoint. It is
// a no-op when metrics are disabled.
func (a *App) StartCollectors(ctx context.Context) {
	m := a.Metrics
	if m == nil {
		return
	}
	m.StartPostgresCollector(ctx, a.Log, a.DB)
	m.StartReportStatusCollector(ctx, a.Log, func(ctx context.Context) (map[string]int64, error) {
		counts, err := a.Repos.Reports.CountByStatus(dbctx.Context{Ctx: ctx})
		if err != nil {
			return nil, err
		}
		out := make(map[string]int64, len(counts))
		for status, n := range counts {
			out[string(status)] = n
		}
		return out, nil
	})
	if a.Clients.Redis != nil {
		m.StartRedisCollector(ctx, a.Log, a.Clients.Redis)
	}
	if a.Clients.Queue != nil {
		m.StartQueueDepthCollector(ctx, a.Log, jobs.Queues, a.Clients.Queue.Depth)
	}
}
