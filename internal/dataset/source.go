// Package dataset 负责标注测试集的加载、校验、采样与提示词渲染
package dataset

import (
	"encoding/json"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "inferbench/internal/errors"
	"inferbench/internal/model"
)

// 内置支持的测试集名称。其它名称按通用字段格式解析。
const (
	DatasetCallComplaints   = "call_semantic_complaints"
	DatasetMangaAdDetection = "manga_comment_ad_detection"
	DatasetUserCommentAd    = "user_comment_ad_evaluation"
)

// rawDataset 测试集文件的顶层结构
type rawDataset struct {
	Info    model.DatasetInfo `json:"dataset_info"`
	Samples []rawSample       `json:"test_samples"`
}

// rawSample 兼容各测试集的字段并集，加载后按测试集名称归一
type rawSample struct {
	ID               string                 `json:"id"`
	Content          string                 `json:"content"`
	ConversationText string                 `json:"conversation_text"`
	CommentText      string                 `json:"comment_text"`
	Category         string                 `json:"category"`
	ExpectedScore    float64                `json:"expected_score"`
	SeverityScore    float64                `json:"severity_score"`
	AdScore          float64                `json:"ad_score"`
	Keywords         []string               `json:"keywords"`
	ExpectedResponse string                 `json:"expected_response"`
	Context          string                 `json:"context"`
	Metadata         map[string]interface{} `json:"metadata"`
}

// Source 文件型测试集来源。加载结果按名称缓存，样本只读。
type Source struct {
	dir    string
	logger *zap.Logger

	mu     sync.RWMutex
	loaded map[string]*rawDataset
}

// NewSource 创建测试集来源，目录不存在时自动创建
func NewSource(dir string, logger *zap.Logger) (*Source, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrCodeStorageFailure, "create datasets dir %s", dir)
	}
	return &Source{
		dir:    dir,
		logger: logger,
		loaded: make(map[string]*rawDataset),
	}, nil
}

// load 读取并校验一个测试集文件，命中缓存时直接返回
func (s *Source) load(name string) (*rawDataset, error) {
	s.mu.RLock()
	if ds, ok := s.loaded[name]; ok {
		s.mu.RUnlock()
		return ds, nil
	}
	s.mu.RUnlock()

	path := filepath.Join(s.dir, name+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.Newf(apperrors.ErrCodeDatasetNotFound, "dataset %q not found in %s", name, s.dir)
		}
		return nil, apperrors.Wrapf(err, apperrors.ErrCodeStorageFailure, "read dataset %q", name)
	}

	var ds rawDataset
	if err := json.Unmarshal(data, &ds); err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrCodeDatasetInvalid, "parse dataset %q", name)
	}
	if err := s.validate(name, &ds); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.loaded[name] = &ds
	s.mu.Unlock()

	s.logger.Info("dataset loaded",
		zap.String("dataset", name),
		zap.Int("samples", len(ds.Samples)))
	return &ds, nil
}

// validate 校验测试集的必需字段。样本数与声明不一致仅告警。
func (s *Source) validate(name string, ds *rawDataset) error {
	if ds.Info.Name == "" || ds.Info.Description == "" || ds.Info.Version == "" {
		return apperrors.Newf(apperrors.ErrCodeDatasetInvalid,
			"dataset %q missing required dataset_info fields", name)
	}
	if ds.Info.TotalSamples != len(ds.Samples) {
		s.logger.Warn("dataset sample count mismatch",
			zap.String("dataset", name),
			zap.Int("declared", ds.Info.TotalSamples),
			zap.Int("actual", len(ds.Samples)))
	}
	for i, sample := range ds.Samples {
		if sample.ID == "" {
			return apperrors.Newf(apperrors.ErrCodeDatasetInvalid,
				"dataset %q sample %d missing id", name, i)
		}
	}
	return nil
}

// normalize 按测试集名称把原始样本映射为统一的TestSample
func normalize(name string, raw rawSample) model.TestSample {
	switch name {
	case DatasetCallComplaints:
		return model.TestSample{
			ID:               raw.ID,
			Content:          raw.ConversationText,
			Category:         raw.Category,
			ExpectedScore:    raw.SeverityScore,
			Keywords:         raw.Keywords,
			ExpectedResponse: raw.ExpectedResponse,
			Metadata: map[string]interface{}{
				"severity_score": raw.SeverityScore,
				"keywords":       raw.Keywords,
			},
		}
	case DatasetMangaAdDetection:
		return model.TestSample{
			ID:               raw.ID,
			Content:          raw.CommentText,
			Category:         raw.Category,
			ExpectedScore:    raw.AdScore,
			Keywords:         raw.Keywords,
			ExpectedResponse: raw.ExpectedResponse,
			Metadata: map[string]interface{}{
				"ad_score": raw.AdScore,
				"context":  raw.Context,
				"category": raw.Category,
			},
		}
	default:
		return model.TestSample{
			ID:               raw.ID,
			Content:          raw.Content,
			Category:         raw.Category,
			ExpectedScore:    raw.ExpectedScore,
			Keywords:         raw.Keywords,
			ExpectedResponse: raw.ExpectedResponse,
			Metadata:         raw.Metadata,
		}
	}
}

// SampleFilter 样本筛选条件
type SampleFilter struct {
	// Count 上限，0表示不限制
	Count int
	// Categories 非空时仅保留这些类别
	Categories []string
	// Seed 随机采样种子，0表示使用当前时间
	Seed int64
}

// Samples 获取测试样本。先按类别筛选，再在数量超限时随机抽取Count个。
func (s *Source) Samples(name string, filter SampleFilter) ([]model.TestSample, error) {
	ds, err := s.load(name)
	if err != nil {
		return nil, err
	}

	samples := make([]model.TestSample, 0, len(ds.Samples))
	for _, raw := range ds.Samples {
		samples = append(samples, normalize(name, raw))
	}

	if len(filter.Categories) > 0 {
		wanted := make(map[string]bool, len(filter.Categories))
		for _, c := range filter.Categories {
			wanted[c] = true
		}
		kept := samples[:0]
		for _, sample := range samples {
			if wanted[sample.Category] {
				kept = append(kept, sample)
			}
		}
		samples = kept
	}

	if filter.Count > 0 && filter.Count < len(samples) {
		seed := filter.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		rng := rand.New(rand.NewSource(seed))
		rng.Shuffle(len(samples), func(i, j int) {
			samples[i], samples[j] = samples[j], samples[i]
		})
		samples = samples[:filter.Count]
	}

	s.logger.Info("samples selected",
		zap.String("dataset", name),
		zap.Int("count", len(samples)))
	return samples, nil
}

// Info 返回测试集元信息，附带实际类别列表
func (s *Source) Info(name string) (*model.DatasetInfo, error) {
	ds, err := s.load(name)
	if err != nil {
		return nil, err
	}
	info := ds.Info
	info.ID = name
	info.Categories = collectCategories(name, ds.Samples)
	return &info, nil
}

// List 扫描目录，返回全部可加载测试集的元信息，按名称排序。
// 无法解析的文件记录告警后跳过。
func (s *Source) List() ([]model.DatasetInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrCodeStorageFailure, "list datasets dir %s", s.dir)
	}

	infos := make([]model.DatasetInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".json")
		info, err := s.Info(name)
		if err != nil {
			s.logger.Warn("skipping unreadable dataset",
				zap.String("dataset", name), zap.Error(err))
			continue
		}
		infos = append(infos, *info)
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos, nil
}

// Invalidate 清除缓存，下次访问时重新读盘
func (s *Source) Invalidate() {
	s.mu.Lock()
	s.loaded = make(map[string]*rawDataset)
	s.mu.Unlock()
}

func collectCategories(name string, samples []rawSample) []string {
	seen := make(map[string]bool)
	var categories []string
	for _, raw := range samples {
		cat := normalize(name, raw).Category
		if cat == "" || seen[cat] {
			continue
		}
		seen[cat] = true
		categories = append(categories, cat)
	}
	sort.Strings(categories)
	return categories
}
