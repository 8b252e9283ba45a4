package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"perpguard/config"
	"perpguard/logger"
)

// WebServer 状态服务器
type WebServer struct {
	server *http.Server
	cfg    *config.Config
}

// NewWebServer 创建状态服务器，未启用时返回 nil
func NewWebServer(cfg *config.Config, api *API) *WebServer {
	if !cfg.Web.Enabled {
		return nil
	}

	// 设置Gin模式
	if strings.EqualFold(cfg.System.LogLevel, "debug") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(GinLoggerMiddleware(strings.EqualFold(cfg.System.LogLevel, "debug")))
	SetupRoutes(r, api)

	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	return &WebServer{
		server: &http.Server{
			Addr:         addr,
			Handler:      r,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		cfg: cfg,
	}
}

// Handler 路由（测试使用）
func (ws *WebServer) Handler() http.Handler {
	return ws.server.Handler
}

// Run 阻塞运行直到 ctx 取消，可直接作为引擎的附属服务
func (ws *WebServer) Run(ctx context.Context) error {
	if ws == nil {
		return nil
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("🌐 状态服务器启动在 http://%s", ws.server.Addr)
		if err := ws.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("状态服务器启动失败: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		logger.Error("❌ 状态服务器关闭失败: %v", err)
		return err
	}
	logger.Info("✅ 状态服务器已关闭")
	return nil
}
