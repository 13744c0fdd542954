package bench

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"inferbench/config"
	"inferbench/internal/dataset"
	apperrors "inferbench/internal/errors"
	"inferbench/internal/evaluation"
	"inferbench/internal/metrics"
	"inferbench/internal/model"
	"inferbench/internal/storage"
)

// timestampLayout 测试ID中的时间戳格式
const timestampLayout = "20060102_150405"

// saveTimeout 结果落盘的超时上限
const saveTimeout = 10 * time.Second

// activeTest 一次在跑（或刚结束）的测试的句柄
type activeTest struct {
	tracker *progressTracker
	cancel  context.CancelFunc
	done    chan struct{}
}

// Registry 测试生命周期管理器。全进程同一时刻最多允许一个
// 测试在运行，压测和数据集评估共用同一个执行槽位。
// 结束的测试保留在内存缓存里，历史结果从存储读取。
type Registry struct {
	runner    *LoadRunner
	evaluator *evaluation.Runner
	source    *dataset.Source
	store     storage.ResultStore
	logger    *zap.Logger

	benchCfg     config.BenchConfig
	evalCfg      config.EvaluationConfig
	defaultModel string
	inferTimeout time.Duration

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	mu      sync.Mutex
	current *activeTest
	results map[string]*model.QPSTestResult
	reports map[string]*model.EvaluationReport
}

// NewRegistry 创建测试注册表
func NewRegistry(cfg *config.Config, runner *LoadRunner, evaluator *evaluation.Runner,
	source *dataset.Source, store storage.ResultStore, logger *zap.Logger) *Registry {

	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &Registry{
		runner:       runner,
		evaluator:    evaluator,
		source:       source,
		store:        store,
		logger:       logger,
		benchCfg:     cfg.Bench,
		evalCfg:      cfg.Evaluation,
		defaultModel: cfg.Ollama.DefaultModel,
		inferTimeout: cfg.Ollama.Timeout(),
		baseCtx:      baseCtx,
		baseCancel:   baseCancel,
		results:      make(map[string]*model.QPSTestResult),
		reports:      make(map[string]*model.EvaluationReport),
	}
}

func newTestID(kind model.TestType, name string) string {
	prefix := "qps"
	if kind == model.TestTypeLatency {
		prefix = "latency"
	}
	return fmt.Sprintf("%s_%s_%s", prefix, time.Now().Format(timestampLayout), name)
}

// NewTestConfig 补全测试配置：零值字段取配置默认值并检查上限。
// WarmupRequests小于0表示未指定，替换为默认预热次数。
// 指定dataset_name时提示词集改为该数据集渲染出的全部提示词。
func (g *Registry) NewTestConfig(cfg model.TestConfig) (model.TestConfig, error) {
	if cfg.TestType == "" {
		cfg.TestType = model.TestTypeQPS
	}
	if cfg.Model == "" {
		cfg.Model = g.defaultModel
	}
	if cfg.TestName == "" {
		cfg.TestName = string(cfg.Kind()) + "_test"
	}
	if cfg.ConcurrentUsers == 0 {
		cfg.ConcurrentUsers = g.benchCfg.DefaultConcurrentUsers
	}
	if cfg.DurationSeconds == 0 && cfg.Kind() == model.TestTypeQPS {
		cfg.DurationSeconds = g.benchCfg.DefaultDurationSeconds
	}
	if cfg.WarmupRequests < 0 {
		cfg.WarmupRequests = g.benchCfg.DefaultWarmupRequests
	}
	if cfg.TimeoutSeconds == 0 {
		cfg.TimeoutSeconds = int(g.inferTimeout / time.Second)
	}

	if cfg.ConcurrentUsers > g.benchCfg.MaxConcurrentUsers {
		return cfg, apperrors.Newf(apperrors.ErrCodeInvalidConfig,
			"concurrent_users %d exceeds limit %d", cfg.ConcurrentUsers, g.benchCfg.MaxConcurrentUsers)
	}
	if cfg.DurationSeconds > g.benchCfg.MaxDurationSeconds {
		return cfg, apperrors.Newf(apperrors.ErrCodeInvalidConfig,
			"duration_seconds %d exceeds limit %d", cfg.DurationSeconds, g.benchCfg.MaxDurationSeconds)
	}

	if cfg.DatasetName != "" {
		samples, err := g.source.Samples(cfg.DatasetName, dataset.SampleFilter{})
		if err != nil {
			return cfg, err
		}
		prompts := make([]string, 0, len(samples))
		for _, sample := range samples {
			prompts = append(prompts, g.source.RenderPrompt(cfg.DatasetName, sample))
		}
		cfg.PromptSet = prompts
		g.logger.Info("prompt set loaded from dataset",
			zap.String("dataset", cfg.DatasetName), zap.Int("prompts", len(prompts)))
	}
	if len(cfg.PromptSet) == 0 {
		cfg.PromptSet = DefaultPrompts
	}

	return cfg, cfg.Validate()
}

// preflight 启动前确认后端可达且模型存在
func (g *Registry) preflight(ctx context.Context, modelName string) error {
	if err := g.runner.client.CheckStatus(ctx); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeBackendUnavailable, "inference backend unreachable")
	}
	exists, err := g.runner.client.ModelExists(ctx, modelName)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeBackendUnavailable, "list models failed")
	}
	if !exists {
		return apperrors.Newf(apperrors.ErrCodeModelNotFound, "model %q not found on backend", modelName)
	}
	return nil
}

// claim 原子地占用执行槽位。上一个测试未到终态时拒绝。
func (g *Registry) claim(at *activeTest) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current != nil {
		if p := g.current.tracker.snapshot(); !p.Status.Terminal() {
			return apperrors.Newf(apperrors.ErrCodeTestAlreadyRunning,
				"test %s is already %s", p.TestID, p.Status)
		}
	}
	g.current = at
	metrics.SetActiveTest(true)
	return nil
}

// release 上报终态指标并释放槽位占用。槽位已被下一个测试
// 接管时不动gauge。
func (g *Registry) release(at *activeTest, started time.Time) {
	p := at.tracker.snapshot()
	metrics.RecordTestResult(string(p.TestType), string(p.Status), time.Since(started).Seconds())

	g.mu.Lock()
	if g.current == at {
		metrics.SetActiveTest(false)
	}
	g.mu.Unlock()
}

// StartQPSTest 启动一次压测（qps或latency类型），立即返回test_id。
// 测试在后台goroutine中执行，进度通过GetProgress轮询。
// 配置非法、后端不可达、模型不存在或已有测试在跑时启动被拒绝。
func (g *Registry) StartQPSTest(ctx context.Context, cfg model.TestConfig) (string, error) {
	cfg, err := g.NewTestConfig(cfg)
	if err != nil {
		return "", err
	}
	if err := g.preflight(ctx, cfg.Model); err != nil {
		return "", err
	}

	testID := newTestID(cfg.Kind(), cfg.TestName)
	tracker := newProgressTracker(testID, cfg.Kind(), cfg.TestName, cfg.Model)
	runCtx, cancel := context.WithCancel(g.baseCtx)
	at := &activeTest{tracker: tracker, cancel: cancel, done: make(chan struct{})}

	if err := g.claim(at); err != nil {
		cancel()
		return "", err
	}

	g.wg.Add(1)
	go g.run(runCtx, at, cfg)

	g.logger.Info("test started",
		zap.String("test_id", testID),
		zap.String("type", string(cfg.Kind())),
		zap.String("model", cfg.Model))
	return testID, nil
}

// run 后台执行一次压测并落盘。panic在这里兜底，
// 测试置为failed，槽位随终态自动释放。
func (g *Registry) run(ctx context.Context, at *activeTest, cfg model.TestConfig) {
	started := time.Now()
	defer g.wg.Done()
	defer g.release(at, started)
	defer close(at.done)
	defer at.cancel()
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("test run panicked",
				zap.String("test_id", at.tracker.snapshot().TestID), zap.Any("panic", r))
			at.tracker.fail(fmt.Sprintf("internal error: %v", r))
		}
	}()

	var (
		result *model.QPSTestResult
		err    error
	)
	if cfg.Kind() == model.TestTypeLatency {
		result, err = g.runner.RunLatencyProbe(ctx, cfg, at.tracker)
	} else {
		result, err = g.runner.Run(ctx, cfg, at.tracker)
	}
	if err != nil {
		at.tracker.fail(err.Error())
		return
	}

	g.persist(result)

	g.mu.Lock()
	g.results[result.TestID] = result
	g.mu.Unlock()

	if result.Status == model.StatusStopped {
		at.tracker.setStatus(model.StatusStopped)
	} else {
		at.tracker.set(model.StatusCompleted, 100)
	}
}

// persist 保存结果，失败只记日志不影响测试状态
func (g *Registry) persist(result *model.QPSTestResult) {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := g.store.Save(ctx, result); err != nil {
		g.logger.Error("save test result failed",
			zap.String("test_id", result.TestID), zap.Error(err))
	}
}

// EvaluationOptions 数据集评估请求参数
type EvaluationOptions struct {
	Model        string
	Dataset      string
	SampleCount  int
	Categories   []string
	Seed         int64
	ThinkingMode bool
	Progress     evaluation.ProgressFunc
}

// prepareEvaluation 补全评估参数：模型和抽样数的零值取配置默认
func (g *Registry) prepareEvaluation(opts EvaluationOptions) (EvaluationOptions, error) {
	if opts.Dataset == "" {
		return opts, apperrors.New(apperrors.ErrCodeInvalidInput, "dataset name is required")
	}
	if opts.Model == "" {
		opts.Model = g.defaultModel
	}
	if opts.SampleCount == 0 {
		opts.SampleCount = g.evalCfg.DefaultSampleCount
	}
	return opts, nil
}

// evaluate 在已占用槽位的前提下执行评估并落盘报告
func (g *Registry) evaluate(runCtx context.Context, at *activeTest, testID string, opts EvaluationOptions) (*model.EvaluationReport, error) {
	at.tracker.setStatus(model.StatusRunning)
	report, err := g.evaluator.Run(runCtx, evaluation.Options{
		TestID:       testID,
		Model:        opts.Model,
		Dataset:      opts.Dataset,
		SampleCount:  opts.SampleCount,
		Categories:   opts.Categories,
		Seed:         opts.Seed,
		Timeout:      g.inferTimeout,
		ThinkingMode: opts.ThinkingMode,
		Progress: func(current, total int, sampleID string) {
			at.tracker.sampleProgress(current, total, sampleID)
			if opts.Progress != nil {
				opts.Progress(current, total, sampleID)
			}
		},
	})
	if err != nil {
		if runCtx.Err() != nil {
			at.tracker.setStatus(model.StatusStopped)
		} else {
			at.tracker.fail(err.Error())
		}
		return nil, err
	}
	at.tracker.set(model.StatusCompleted, 100)
	metrics.SetEvaluationAccuracy(opts.Dataset, opts.Model, report.AvgScoreAccuracy, report.CategoryAccuracy)

	saveCtx, saveCancel := context.WithTimeout(context.Background(), saveTimeout)
	defer saveCancel()
	if err := g.store.SaveReport(saveCtx, report); err != nil {
		g.logger.Error("save evaluation report failed",
			zap.String("test_id", testID), zap.Error(err))
	}

	g.mu.Lock()
	g.reports[testID] = report
	g.mu.Unlock()
	return report, nil
}

// RunDatasetEvaluation 同步执行一次数据集评估并返回报告。
// 评估期间占用与压测相同的执行槽位，进度同样可轮询。
// 调用方ctx取消或StopCurrent都会在当前样本完成后中止评估。
func (g *Registry) RunDatasetEvaluation(ctx context.Context, opts EvaluationOptions) (*model.EvaluationReport, error) {
	opts, err := g.prepareEvaluation(opts)
	if err != nil {
		return nil, err
	}
	if err := g.preflight(ctx, opts.Model); err != nil {
		return nil, err
	}

	testID := fmt.Sprintf("eval_%s_%s", time.Now().Format(timestampLayout), opts.Dataset)
	tracker := newProgressTracker(testID, model.TestTypeDataset, opts.Dataset, opts.Model)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(g.baseCtx, cancel)
	defer stop()
	at := &activeTest{tracker: tracker, cancel: cancel, done: make(chan struct{})}

	if err := g.claim(at); err != nil {
		return nil, err
	}
	started := time.Now()
	defer g.release(at, started)
	defer close(at.done)

	return g.evaluate(runCtx, at, testID, opts)
}

// StartDatasetEvaluation 异步启动一次数据集评估，立即返回test_id。
// 进度与压测共用GetProgress，完成后报告通过GetEvaluationReport获取。
func (g *Registry) StartDatasetEvaluation(ctx context.Context, opts EvaluationOptions) (string, error) {
	opts, err := g.prepareEvaluation(opts)
	if err != nil {
		return "", err
	}
	if err := g.preflight(ctx, opts.Model); err != nil {
		return "", err
	}

	testID := fmt.Sprintf("eval_%s_%s", time.Now().Format(timestampLayout), opts.Dataset)
	tracker := newProgressTracker(testID, model.TestTypeDataset, opts.Dataset, opts.Model)
	runCtx, cancel := context.WithCancel(g.baseCtx)
	at := &activeTest{tracker: tracker, cancel: cancel, done: make(chan struct{})}

	if err := g.claim(at); err != nil {
		cancel()
		return "", err
	}

	started := time.Now()
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer g.release(at, started)
		defer close(at.done)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				g.logger.Error("evaluation run panicked",
					zap.String("test_id", testID), zap.Any("panic", r))
				at.tracker.fail(fmt.Sprintf("internal error: %v", r))
			}
		}()

		if _, err := g.evaluate(runCtx, at, testID, opts); err != nil {
			g.logger.Error("dataset evaluation failed",
				zap.String("test_id", testID), zap.Error(err))
		}
	}()

	g.logger.Info("evaluation started",
		zap.String("test_id", testID),
		zap.String("dataset", opts.Dataset),
		zap.String("model", opts.Model))
	return testID, nil
}

// GetProgress 返回指定测试的进度快照。当前测试直接读内存状态，
// 历史测试从结果合成一个终态进度，都查不到返回ErrCodeTestNotFound。
func (g *Registry) GetProgress(ctx context.Context, testID string) (*model.TestProgress, error) {
	g.mu.Lock()
	at := g.current
	g.mu.Unlock()
	if at != nil {
		if p := at.tracker.snapshot(); p.TestID == testID {
			return &p, nil
		}
	}

	result, err := g.GetResult(ctx, testID)
	if err != nil {
		return nil, err
	}
	return progressFromResult(result), nil
}

// CurrentProgress 最近一次测试的进度快照，从未跑过测试时返回nil
func (g *Registry) CurrentProgress() *model.TestProgress {
	g.mu.Lock()
	at := g.current
	g.mu.Unlock()
	if at == nil {
		return nil
	}
	p := at.tracker.snapshot()
	return &p
}

// progressFromResult 从已完成的结果合成进度视图
func progressFromResult(result *model.QPSTestResult) *model.TestProgress {
	return &model.TestProgress{
		TestID:    result.TestID,
		TestType:  result.TestType,
		TestName:  result.Config.TestName,
		Model:     result.Config.Model,
		Status:    result.Status,
		Percent:   100,
		StartTime: result.StartTime,
		UpdatedAt: result.EndTime,
	}
}

// GetResult 按test_id取结果：先查内存缓存，再查持久化存储
func (g *Registry) GetResult(ctx context.Context, testID string) (*model.QPSTestResult, error) {
	g.mu.Lock()
	result, ok := g.results[testID]
	g.mu.Unlock()
	if ok {
		return result, nil
	}
	return g.store.Load(ctx, testID)
}

// ListResults 返回全部测试结果，内存和存储合并去重后按开始时间倒序
func (g *Registry) ListResults(ctx context.Context) ([]*model.QPSTestResult, error) {
	stored, err := g.store.LoadAll(ctx)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	merged := make(map[string]*model.QPSTestResult, len(stored)+len(g.results))
	for _, r := range stored {
		merged[r.TestID] = r
	}
	for id, r := range g.results {
		merged[id] = r
	}
	g.mu.Unlock()

	results := make([]*model.QPSTestResult, 0, len(merged))
	for _, r := range merged {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].StartTime.After(results[j].StartTime)
	})
	return results, nil
}

// GetEvaluationReport 按test_id取本进程内生成过的评估报告
func (g *Registry) GetEvaluationReport(testID string) (*model.EvaluationReport, error) {
	g.mu.Lock()
	report, ok := g.reports[testID]
	g.mu.Unlock()
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrCodeTestNotFound, "evaluation report %q not found", testID)
	}
	return report, nil
}

// StopCurrent 请求停止当前测试，返回被停止的test_id。
// 只有running状态可以停止；取消是协作式的，worker在下一轮
// 迭代退出，该调用不等待排空。
func (g *Registry) StopCurrent() (string, error) {
	g.mu.Lock()
	at := g.current
	g.mu.Unlock()
	if at == nil {
		return "", apperrors.New(apperrors.ErrCodeTestNotRunning, "no test is currently running")
	}

	p := at.tracker.snapshot()
	if p.Status != model.StatusRunning {
		return "", apperrors.Newf(apperrors.ErrCodeTestNotRunning,
			"test %s is %s, only a running test can be stopped", p.TestID, p.Status)
	}

	at.cancel()
	g.logger.Info("test stop requested", zap.String("test_id", p.TestID))
	return p.TestID, nil
}

// Close 取消在跑的测试并等待后台goroutine退出，ctx控制等待上限
func (g *Registry) Close(ctx context.Context) error {
	g.baseCancel()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return apperrors.Wrap(ctx.Err(), apperrors.ErrCodeInternal, "tests still draining at shutdown")
	}
}
