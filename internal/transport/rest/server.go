// Package rest 提供压测与数据集评估的HTTP接口
package rest

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"inferbench/config"
	"inferbench/internal/auth"
	"inferbench/internal/bench"
	"inferbench/internal/dataset"
	apperrors "inferbench/internal/errors"
	"inferbench/internal/inference"
	"inferbench/internal/metrics"
	"inferbench/internal/monitor"
	"inferbench/internal/storage"
)

// version 接口报告的服务版本号
const version = "1.0.0"

// Server REST API服务器
type Server struct {
	cfg       *config.Config
	registry  *bench.Registry
	source    *dataset.Source
	client    inference.Client
	store     storage.ResultStore
	mon       *monitor.Monitor
	logger    *zap.Logger
	router    *gin.Engine
	server    *http.Server
	startedAt time.Time
}

// NewServer 创建REST服务器。mon可以为nil，此时监控相关接口
// 返回错误说明监控未开启。
func NewServer(cfg *config.Config, registry *bench.Registry, source *dataset.Source,
	client inference.Client, store storage.ResultStore, mon *monitor.Monitor, logger *zap.Logger) (*Server, error) {

	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(accessLogMiddleware(logger))
	if cfg.Metrics.Enabled {
		router.Use(metricsMiddleware())
	}

	if cfg.Auth.Enabled {
		manager, err := auth.NewManager(cfg.Auth)
		if err != nil {
			return nil, err
		}
		mw := auth.NewMiddleware(manager, []string{"/health", "/metrics"})
		router.Use(mw.Handler())
	}

	s := &Server{
		cfg:       cfg,
		registry:  registry,
		source:    source,
		client:    client,
		store:     store,
		mon:       mon,
		logger:    logger,
		router:    router,
		startedAt: time.Now(),
	}
	s.setupRoutes()
	return s, nil
}

// setupRoutes 注册路由
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.health)
	if s.cfg.Metrics.Enabled {
		s.router.GET("/metrics", gin.WrapH(metrics.Handler()))
	}

	api := s.router.Group("/api")
	{
		// 压测生命周期
		api.POST("/test", s.startTest)
		api.GET("/test/progress", s.getProgress)
		api.GET("/test/results", s.listResults)
		api.GET("/test/results/:test_id", s.getResult)
		api.POST("/test/stop", s.stopTest)

		// 数据集评估
		api.POST("/test/dataset", s.startEvaluation)
		api.GET("/evaluations/:test_id", s.getEvaluationReport)

		// 资源与状态
		api.GET("/datasets", s.listDatasets)
		api.GET("/datasets/:name", s.getDatasetInfo)
		api.GET("/datasets/:name/samples", s.getDatasetSamples)
		api.GET("/models", s.listModels)
		api.GET("/status", s.getStatus)
		api.GET("/config", s.getConfig)

		// 常驻监控
		api.GET("/summary/daily", s.getDailySummary)
		api.GET("/summary/performance", s.getPerformanceSummary)
		api.GET("/history", s.getHistory)
		api.POST("/admin/cleanup", s.cleanupLogs)
	}
}

// writeError 统一错误应答：AppError按其错误码和状态码返回，
// 其他错误一律包装成内部错误
func (s *Server) writeError(c *gin.Context, err error) {
	appErr := apperrors.GetAppError(err)
	if appErr == nil {
		appErr = apperrors.Wrap(err, apperrors.ErrCodeInternal, "internal error")
	}

	s.logger.Warn("request failed",
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.String("code", string(appErr.Code)),
		zap.String("request_id", c.GetString(requestIDKey)),
		zap.Error(err))

	c.JSON(appErr.HTTPStatus, ErrorResponse{
		Error:   appErr.Message,
		Code:    string(appErr.Code),
		Details: appErr.Details,
	})
}

// Start 阻塞运行HTTP服务，直到Stop被调用或监听失败
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(s.cfg.Server.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.Server.IdleTimeoutSeconds) * time.Second,
	}

	s.logger.Info("REST server listening", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "http server failed")
	}
	return nil
}

// Stop 优雅关闭，等待在途请求完成，ctx控制等待上限
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
