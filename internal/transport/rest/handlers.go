package rest

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"inferbench/internal/bench"
	"inferbench/internal/dataset"
	apperrors "inferbench/internal/errors"
	"inferbench/internal/inference"
	"inferbench/internal/model"
)

// defaultStatusTimeout 后端探活的兜底超时
const defaultStatusTimeout = 5 * time.Second

// 健康状态取值
const (
	healthHealthy   = "healthy"
	healthDegraded  = "degraded"
	healthUnhealthy = "unhealthy"
)

// checkComponent 执行单项依赖探测并计时
func checkComponent(ctx context.Context, name string, timeout time.Duration,
	check func(context.Context) error) ComponentHealth {

	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := check(checkCtx)

	comp := ComponentHealth{
		Name:      name,
		Status:    healthHealthy,
		LatencyMs: float64(time.Since(start)) / float64(time.Millisecond),
	}
	if err != nil {
		comp.Status = healthUnhealthy
		comp.Message = err.Error()
	}
	return comp
}

// health 健康检查端点。逐个探测依赖组件：一个组件异常整体降级为
// degraded，多个异常为unhealthy。进程存活即返回200，
// 编排层的存活判断不受后端故障影响。
func (s *Server) health(c *gin.Context) {
	backendTimeout := s.cfg.Ollama.StatusTimeout()
	if backendTimeout <= 0 {
		backendTimeout = defaultStatusTimeout
	}
	components := []ComponentHealth{
		checkComponent(c.Request.Context(), "backend", backendTimeout, s.client.CheckStatus),
		checkComponent(c.Request.Context(), "storage", defaultStatusTimeout, s.store.Ping),
	}

	status := healthHealthy
	for _, comp := range components {
		if comp.Status == healthHealthy {
			continue
		}
		if status == healthHealthy {
			status = healthDegraded
		} else {
			status = healthUnhealthy
		}
	}

	c.JSON(http.StatusOK, HealthResponse{
		Status:        status,
		Timestamp:     time.Now(),
		Version:       version,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Components:    components,
	})
}

// startTest 启动一次压测，立即返回test_id，进度通过轮询获取
func (s *Server) startTest(c *gin.Context) {
	var req TestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "invalid request body"))
		return
	}

	testID, err := s.registry.StartQPSTest(c.Request.Context(), req.toConfig())
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, StartTestResponse{
		TestID:  testID,
		Status:  string(model.StatusStarting),
		Message: "load test started",
	})
}

// getProgress 查询测试进度。不带test_id时返回最近一次测试的进度。
func (s *Server) getProgress(c *gin.Context) {
	testID := c.Query("test_id")
	if testID == "" {
		progress := s.registry.CurrentProgress()
		if progress == nil {
			s.writeError(c, apperrors.New(apperrors.ErrCodeTestNotFound, "no test has been run yet"))
			return
		}
		c.JSON(http.StatusOK, progress)
		return
	}

	progress, err := s.registry.GetProgress(c.Request.Context(), testID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, progress)
}

// listResults 返回全部历史结果，按开始时间倒序
func (s *Server) listResults(c *gin.Context) {
	results, err := s.registry.ListResults(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	if results == nil {
		results = []*model.QPSTestResult{}
	}
	c.JSON(http.StatusOK, ListResultsResponse{Results: results, Total: len(results)})
}

// getResult 按test_id返回单个结果
func (s *Server) getResult(c *gin.Context) {
	result, err := s.registry.GetResult(c.Request.Context(), c.Param("test_id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// stopTest 请求停止当前测试。停止是协作式的，接口立即返回。
func (s *Server) stopTest(c *gin.Context) {
	testID, err := s.registry.StopCurrent()
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, StopTestResponse{
		TestID:  testID,
		Status:  "stopping",
		Message: "stop requested, workers exit after the current request",
	})
}

// startEvaluation 启动一次数据集评估，立即返回test_id。进度通过
// /api/test/progress轮询，完成后报告从 /api/evaluations/:test_id 获取。
func (s *Server) startEvaluation(c *gin.Context) {
	var req EvaluationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "invalid request body"))
		return
	}

	testID, err := s.registry.StartDatasetEvaluation(c.Request.Context(), bench.EvaluationOptions{
		Model:        req.Model,
		Dataset:      req.DatasetName,
		SampleCount:  req.SampleCount,
		Categories:   req.Categories,
		Seed:         req.Seed,
		ThinkingMode: req.ThinkingMode,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, StartTestResponse{
		TestID:  testID,
		Status:  string(model.StatusStarting),
		Message: "dataset evaluation started",
	})
}

// getEvaluationReport 按test_id返回本进程内生成过的评估报告
func (s *Server) getEvaluationReport(c *gin.Context) {
	report, err := s.registry.GetEvaluationReport(c.Param("test_id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// listDatasets 列出全部可用数据集
func (s *Server) listDatasets(c *gin.Context) {
	datasets, err := s.source.List()
	if err != nil {
		s.writeError(c, err)
		return
	}
	if datasets == nil {
		datasets = []model.DatasetInfo{}
	}
	c.JSON(http.StatusOK, ListDatasetsResponse{Datasets: datasets, Total: len(datasets)})
}

// getDatasetInfo 返回单个数据集的元信息
func (s *Server) getDatasetInfo(c *gin.Context) {
	info, err := s.source.Info(c.Param("name"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// getDatasetSamples 预览数据集样本。count限制条数，0表示全部；
// category可重复出现，按类别过滤。
func (s *Server) getDatasetSamples(c *gin.Context) {
	name := c.Param("name")
	count, err := strconv.Atoi(c.DefaultQuery("count", "5"))
	if err != nil || count < 0 {
		s.writeError(c, apperrors.New(apperrors.ErrCodeInvalidInput, "count must be a non-negative integer"))
		return
	}

	samples, err := s.source.Samples(name, dataset.SampleFilter{
		Count:      count,
		Categories: c.QueryArray("category"),
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, DatasetSamplesResponse{Dataset: name, Samples: samples, Total: len(samples)})
}

// listModels 列出推理后端的可用模型
func (s *Server) listModels(c *gin.Context) {
	models, err := s.client.ListModels(c.Request.Context())
	if err != nil {
		s.writeError(c, apperrors.Wrap(err, apperrors.ErrCodeBackendUnavailable, "list models failed"))
		return
	}
	if models == nil {
		models = []inference.ModelInfo{}
	}
	c.JSON(http.StatusOK, ListModelsResponse{Models: models, Total: len(models)})
}

// getStatus 服务与后端状态总览，后端不可达时status为degraded
func (s *Server) getStatus(c *gin.Context) {
	timeout := s.cfg.Ollama.StatusTimeout()
	if timeout <= 0 {
		timeout = defaultStatusTimeout
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
	defer cancel()

	resp := StatusResponse{
		Status:        "ok",
		Version:       version,
		Timestamp:     time.Now(),
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Backend:       BackendStatus{Reachable: true},
	}
	if err := s.client.CheckStatus(ctx); err != nil {
		resp.Status = "degraded"
		resp.Backend = BackendStatus{Reachable: false, Error: err.Error()}
	} else if models, err := s.client.ListModels(ctx); err == nil {
		names := make([]string, 0, len(models))
		for _, m := range models {
			names = append(names, m.Name)
		}
		resp.Backend.Models = names
	}

	resp.CurrentTest = s.registry.CurrentProgress()
	if s.mon != nil {
		if snap, ok := s.mon.Current(); ok {
			resp.System = &snap
		}
	}
	c.JSON(http.StatusOK, resp)
}

// getConfig 返回脱敏后的运行配置。密钥、口令和访问凭证
// 一律不回传，只反馈是否已配置。
func (s *Server) getConfig(c *gin.Context) {
	cfg := s.cfg
	c.JSON(http.StatusOK, ConfigResponse{
		Server: ServerConfigView{
			Host: cfg.Server.Host,
			Port: cfg.Server.Port,
		},
		Ollama: OllamaConfigView{
			BaseURL:        cfg.Ollama.BaseURL,
			DefaultModel:   cfg.Ollama.DefaultModel,
			TimeoutSeconds: cfg.Ollama.TimeoutSeconds,
			MaxRetries:     cfg.Ollama.MaxRetries,
		},
		Bench: BenchConfigView{
			DefaultConcurrentUsers: cfg.Bench.DefaultConcurrentUsers,
			DefaultDurationSeconds: cfg.Bench.DefaultDurationSeconds,
			DefaultWarmupRequests:  cfg.Bench.DefaultWarmupRequests,
			MaxConcurrentUsers:     cfg.Bench.MaxConcurrentUsers,
			MaxDurationSeconds:     cfg.Bench.MaxDurationSeconds,
		},
		Evaluation: EvaluationConfigView{
			DatasetsDir:        cfg.Evaluation.DatasetsDir,
			DefaultSampleCount: cfg.Evaluation.DefaultSampleCount,
		},
		Storage: StorageConfigView{
			Type:           cfg.Storage.Type,
			ResultsDir:     cfg.Storage.ResultsDir,
			RedisAddr:      cfg.Storage.Redis.Addr,
			ArchiveEnabled: cfg.Storage.Archive.Enabled,
		},
		Monitor: MonitorConfigView{
			Enabled:            cfg.Monitor.Enabled,
			LogDir:             cfg.Monitor.LogDir,
			SampleIntervalSecs: cfg.Monitor.SampleIntervalSecs,
		},
		Metrics: MetricsConfigView{Enabled: cfg.Metrics.Enabled},
		Auth: AuthConfigView{
			Enabled:       cfg.Auth.Enabled,
			APIKeyCount:   len(cfg.Auth.APIKeys),
			JWTConfigured: cfg.Auth.JWTSecret != "",
		},
	})
}

// requireMonitor 监控未开启时统一报错
func (s *Server) requireMonitor(c *gin.Context) bool {
	if s.mon == nil {
		s.writeError(c, apperrors.New(apperrors.ErrCodeInvalidConfig, "monitoring is disabled"))
		return false
	}
	return true
}

// getDailySummary 某天的请求与资源汇总，date缺省为当天
func (s *Server) getDailySummary(c *gin.Context) {
	if !s.requireMonitor(c) {
		return
	}
	summary, err := s.mon.DailySummary(c.Query("date"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// getPerformanceSummary 最近N小时的整体表现
func (s *Server) getPerformanceSummary(c *gin.Context) {
	if !s.requireMonitor(c) {
		return
	}
	hours, err := strconv.Atoi(c.DefaultQuery("hours", "1"))
	if err != nil || hours <= 0 {
		s.writeError(c, apperrors.New(apperrors.ErrCodeInvalidInput, "hours must be a positive integer"))
		return
	}
	c.JSON(http.StatusOK, s.mon.PerformanceSummary(hours))
}

// getHistory 最近limit条推理请求记录
func (s *Server) getHistory(c *gin.Context) {
	if !s.requireMonitor(c) {
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 0 {
		s.writeError(c, apperrors.New(apperrors.ErrCodeInvalidInput, "limit must be a non-negative integer"))
		return
	}
	requests := s.mon.RecentRequests(limit)
	c.JSON(http.StatusOK, HistoryResponse{Requests: requests, Total: len(requests)})
}

// cleanupLogs 删除多余的监控日志文件
func (s *Server) cleanupLogs(c *gin.Context) {
	if !s.requireMonitor(c) {
		return
	}
	deleted, err := s.mon.CleanupOldLogs()
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, CleanupResponse{Deleted: deleted})
}
