package dataset

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// ParseMethod 标记解析结果来自哪一阶段
type ParseMethod string

const (
	// ParseStructured JSON结构化解析成功
	ParseStructured ParseMethod = "structured"
	// ParseHeuristic 文本启发式解析成功
	ParseHeuristic ParseMethod = "heuristic"
	// ParseFailed 两个阶段都未提取到任何字段
	ParseFailed ParseMethod = "unparseable"
)

// ParsedResponse 模型响应的解析结果。Score和Category可能只有其一。
type ParsedResponse struct {
	Method   ParseMethod
	Score    *float64
	Category *string
	Analysis string
}

// Parsed 是否提取到了至少一个字段
func (p *ParsedResponse) Parsed() bool {
	return p.Method != ParseFailed
}

var (
	scorePattern = regexp.MustCompile(`\d+(\.\d+)?`)
	gradePattern = regexp.MustCompile(`([ABCDE])级`)
)

// ParseResponse 解析模型的自由文本响应。
// 先尝试JSON结构化提取（取第一个'{'到最后一个'}'之间的内容），
// 提取不到任何字段时退回逐行启发式匹配，两者都失败返回ParseFailed。
func ParseResponse(datasetName, text string) ParsedResponse {
	if parsed, ok := parseStructured(datasetName, text); ok {
		return parsed
	}
	if parsed, ok := parseHeuristic(text); ok {
		return parsed
	}
	return ParsedResponse{Method: ParseFailed}
}

// parseStructured 从响应中截取JSON片段并按测试集映射字段
func parseStructured(datasetName, text string) (ParsedResponse, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ParsedResponse{}, false
	}

	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(text[start:end+1]), &fields); err != nil {
		return ParsedResponse{}, false
	}

	var scoreKey string
	switch datasetName {
	case DatasetCallComplaints:
		scoreKey = "severity_score"
	case DatasetMangaAdDetection:
		scoreKey = "ad_score"
	default:
		scoreKey = "score"
	}

	parsed := ParsedResponse{Method: ParseStructured}
	if v, ok := numberField(fields, scoreKey); ok {
		parsed.Score = &v
	}
	if v, ok := stringField(fields, "category"); ok {
		parsed.Category = &v
	}
	if v, ok := stringField(fields, "analysis"); ok {
		parsed.Analysis = v
	}

	if parsed.Score == nil && parsed.Category == nil {
		return ParsedResponse{}, false
	}
	return parsed, true
}

// 投诉类别的启发式关键词。命中即归一到规范类别名。
var complaintCategories = []struct{ keyword, category string }{
	{"服务质量", "服务质量投诉"},
	{"产品功能", "产品功能投诉"},
	{"收费争议", "收费争议投诉"},
	{"技术故障", "技术故障投诉"},
	{"态度问题", "态度问题投诉"},
	{"无投诉", "无投诉内容"},
}

// 广告类别的启发式关键词，按优先级排列，先命中先得
var adCategories = []struct {
	keywords []string
	category string
}{
	{[]string{"正常评论"}, "正常评论"},
	{[]string{"APP推广", "app推广"}, "APP推广广告"},
	{[]string{"QQ", "微信"}, "QQ/微信联系广告"},
	{[]string{"网站推广", "网站"}, "网站推广广告"},
	{[]string{"诈骗", "中奖"}, "诈骗类广告"},
	{[]string{"色情", "直播"}, "色情引流广告"},
	{[]string{"游戏"}, "游戏推广广告"},
	{[]string{"商业广告", "广告"}, "其他商业广告"},
}

// parseHeuristic 逐行扫描文本，提取评分数字和类别关键词。
// 多行都命中时后面的行覆盖前面的结果。
func parseHeuristic(text string) (ParsedResponse, bool) {
	parsed := ParsedResponse{Method: ParseHeuristic}

	for _, line := range strings.Split(text, "\n") {
		if strings.Contains(line, "分") {
			if m := scorePattern.FindString(line); m != "" {
				if v, err := strconv.ParseFloat(m, 64); err == nil {
					score := v
					parsed.Score = &score
				}
			}
		}

		if strings.Contains(line, "类别") || strings.Contains(line, "投诉") {
			for _, entry := range complaintCategories {
				if strings.Contains(line, entry.keyword) {
					cat := entry.category
					parsed.Category = &cat
					break
				}
			}
		}

		for _, entry := range adCategories {
			matched := false
			for _, kw := range entry.keywords {
				if strings.Contains(line, kw) {
					matched = true
					break
				}
			}
			if matched {
				cat := entry.category
				parsed.Category = &cat
				break
			}
		}

		if m := gradePattern.FindStringSubmatch(line); m != nil {
			cat := m[1] + "级"
			parsed.Category = &cat
		}
	}

	if parsed.Score == nil && parsed.Category == nil {
		return ParsedResponse{}, false
	}
	return parsed, true
}

func numberField(fields map[string]interface{}, key string) (float64, bool) {
	v, ok := fields[key].(float64)
	return v, ok
}

func stringField(fields map[string]interface{}, key string) (string, bool) {
	v, ok := fields[key].(string)
	return v, ok && v != ""
}

// ScoreAccuracy 评分准确性：1减去相对误差，下限0。
// 误差按max(5, expected)归一，模型未给出评分时为0。
func ScoreAccuracy(modelScore *float64, expected float64) float64 {
	if modelScore == nil {
		return 0
	}
	maxDiff := expected
	if maxDiff < 5 {
		maxDiff = 5
	}
	diff := *modelScore - expected
	if diff < 0 {
		diff = -diff
	}
	accuracy := 1 - diff/maxDiff
	if accuracy < 0 {
		return 0
	}
	return accuracy
}

// 投诉类别的同义词表，用于模糊匹配
var complaintSynonyms = map[string][]string{
	"服务质量投诉": {"服务", "质量"},
	"产品功能投诉": {"产品", "功能"},
	"收费争议投诉": {"收费", "争议", "费用"},
	"技术故障投诉": {"技术", "故障"},
	"态度问题投诉": {"态度", "问题"},
	"无投诉内容":  {"无投诉", "无"},
}

// CategoryMatch 判断模型类别与预期类别是否一致。
// 精确相等直接通过；否则按测试集做模糊匹配：投诉测试集查同义词表，
// 广告等级测试集接受双向包含。
func CategoryMatch(datasetName string, modelCategory *string, expected string) bool {
	if modelCategory == nil || *modelCategory == "" {
		return false
	}
	got := *modelCategory
	if got == expected {
		return true
	}

	switch datasetName {
	case DatasetCallComplaints:
		for _, keyword := range complaintSynonyms[expected] {
			if strings.Contains(got, keyword) {
				return true
			}
		}
	case DatasetUserCommentAd:
		if strings.Contains(got, expected) || strings.Contains(expected, got) {
			return true
		}
	}
	return false
}
