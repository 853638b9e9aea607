// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"orderflow/internal/pkg/config"
	"orderflow/internal/pkg/logger"
	"orderflow/internal/pkg/nacos"
	"orderflow/internal/pkg/tracing"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// Runner 是一个随服务启停的后台组件（队列消费者、清理任务等）
type Runner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context)
}

// AppCtx 暴露给各服务注册路由时使用的组件
type AppCtx struct {
	Engine *gin.Engine
	Nacos  *nacos.Client
	Config *config.Config
}

// AppInfo 包含了启动一个微服务所需的所有特定信息。
type AppInfo struct {
	Port             int
	RegisterHandlers func(appCtx AppCtx) // 允许每个服务注册自己独特的 HTTP 路由
	Runners          []Runner
	// Ready 用于 /healthz，返回 false 时健康检查失败
	Ready func() bool
}

// App 持有服务生命周期内共享的基础设施
type App struct {
	ServiceName string
	Config      *config.Config

	tp      *sdktrace.TracerProvider
	nacos   *nacos.Client
	closers []closer
}

type closer struct {
	name string
	fn   func(ctx context.Context) error
}

// NewApp 初始化日志、追踪以及可选的 Nacos 客户端
func NewApp(serviceName string, cfg *config.Config) (*App, error) {
	logger.Init(serviceName, cfg.App.LogLevel)

	tp, err := tracing.InitTracerProvider(serviceName, cfg.Infra.Tracing)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer provider: %w", err)
	}
	app := &App{ServiceName: serviceName, Config: cfg, tp: tp}

	if cfg.Infra.Nacos.Enabled {
		nc, err := nacos.NewNacosClient(cfg.Infra.Nacos)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize nacos client: %w", err)
		}
		app.nacos = nc
	}
	return app, nil
}

// Tracer 返回当前服务的 tracer
func (a *App) Tracer() trace.Tracer {
	return otel.Tracer(a.ServiceName)
}

// Nacos 在未启用时返回 nil
func (a *App) Nacos() *nacos.Client {
	return a.nacos
}

// OnShutdown 注册一个关停时按注册逆序执行的清理函数
func (a *App) OnShutdown(name string, fn func(ctx context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// StartService 封装了所有微服务的通用启动和优雅关停逻辑，阻塞直到收到退出信号或某个组件失败。
func (a *App) StartService(info AppInfo) error {
	log := logger.L()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. HTTP 引擎
	engine := NewEngine(a.ServiceName, info.Ready)
	if info.RegisterHandlers != nil {
		info.RegisterHandlers(AppCtx{Engine: engine, Nacos: a.nacos, Config: a.Config})
	}
	server := &http.Server{Addr: ":" + strconv.Itoa(info.Port), Handler: engine}

	// 2. 后台组件
	for _, r := range info.Runners {
		if err := r.Start(ctx); err != nil {
			return fmt.Errorf("start runner: %w", err)
		}
	}

	// 3. 服务注册
	var ip string
	if a.nacos != nil {
		var err error
		if ip, err = outboundIP(); err != nil {
			return fmt.Errorf("failed to get outbound IP address: %w", err)
		}
		if err := a.nacos.RegisterServiceInstance(a.ServiceName, ip, info.Port); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Msgf("✅ %s listening on :%d", a.ServiceName, info.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("could not listen on %s: %w", server.Addr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msgf("Shutting down service %s...", a.ServiceName)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// 关停顺序: 注销 -> 停止接收请求 -> 停止消费者 -> 清理资源 -> 刷新 trace
		if a.nacos != nil {
			if err := a.nacos.DeregisterServiceInstance(a.ServiceName, ip, info.Port); err != nil {
				log.Error().Err(err).Msg("Error deregistering from Nacos")
			}
			a.nacos.Close()
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Error shutting down http server")
		} else {
			log.Info().Msg("HTTP server shut down.")
		}
		for i := len(info.Runners) - 1; i >= 0; i-- {
			info.Runners[i].Stop(shutdownCtx)
		}
		for i := len(a.closers) - 1; i >= 0; i-- {
			c := a.closers[i]
			if err := c.fn(shutdownCtx); err != nil {
				log.Error().Err(err).Str("resource", c.name).Msg("Error closing resource")
			}
		}
		if err := a.tp.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Error shutting down tracer provider")
		} else {
			log.Info().Msg("Tracer provider shut down.")
		}
		return nil
	})

	err := g.Wait()
	log.Info().Msgf("Service %s gracefully shut down.", a.ServiceName)
	return err
}

// NewEngine 创建带有通用中间件与 /healthz、/metrics 的 gin 引擎
func NewEngine(serviceName string, ready func() bool) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowHeaders:    []string{"Origin", "Content-Type", "Authorization", "X-User-Id", "traceparent"},
		MaxAge:          12 * time.Hour,
	}))
	engine.Use(otelgin.Middleware(serviceName))
	engine.Use(requestLogger())

	engine.GET("/healthz", func(c *gin.Context) {
		if ready != nil && !ready() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return engine
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.FullPath() == "/healthz" || c.FullPath() == "/metrics" {
			return
		}
		logger.Ctx(c.Request.Context()).Info().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("http request")
	}
}

// outboundIP 返回本机用于对外通信的地址，用于服务注册
func outboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}
