package http

import (
	"fmt"
	nethttp "net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/labtrace-backend/internal/http/handlers"
	httpMW "github.com/yungbote/labtrace-backend/internal/http/middleware"
	"github.com/yungbote/labtrace-backend/internal/http/response"
	"github.com/yungbote/labtrace-backend/internal/observability"
	"github.com/yungbote/labtrace-backend/internal/pkg/logger"
)

type RouterConfig struct {
	Log         *logger.Logger
	ServiceName string
	CORSOrigins []string
	Metrics     *observability.Metrics
	// Checks run on /readyz; any failure yields 503.
	Checks []httpH.Check
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	service := cfg.ServiceName
	if service == "" {
		service = "labtrace"
	}
	r.Use(otelgin.Middleware(service))
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.CORS(cfg.CORSOrigins))

	health := httpH.NewHealthHandler(cfg.Checks...)
	r.GET("/healthz", health.HealthCheck)
	r.GET("/readyz", health.Ready)
	r.GET("/metrics", gin.WrapF(cfg.Metrics.WriteHTTP))
	r.NoRoute(func(c *gin.Context) {
		response.RespondError(c, nethttp.StatusNotFound, "not_found", fmt.Errorf("no route for %s %s", c.Request.Method, c.Request.URL.Path))
	})
	return r
}
