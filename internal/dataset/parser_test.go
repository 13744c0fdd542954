package dataset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResponseStructuredManga(t *testing.T) {
	text := `好的，以下是我的分析结果：
{
  "ad_score": 4,
  "category": "APP推广广告",
  "analysis": "评论内容在推广第三方APP"
}
以上。`

	parsed := ParseResponse(DatasetMangaAdDetection, text)

	assert.Equal(t, ParseStructured, parsed.Method)
	require.NotNil(t, parsed.Score)
	assert.Equal(t, 4.0, *parsed.Score)
	require.NotNil(t, parsed.Category)
	assert.Equal(t, "APP推广广告", *parsed.Category)
	assert.Equal(t, "评论内容在推广第三方APP", parsed.Analysis)
}

func TestParseResponseStructuredComplaints(t *testing.T) {
	text := `{"category": "收费争议投诉", "severity_score": 3, "analysis": "用户对扣费有异议"}`

	parsed := ParseResponse(DatasetCallComplaints, text)

	assert.Equal(t, ParseStructured, parsed.Method)
	require.NotNil(t, parsed.Score)
	assert.Equal(t, 3.0, *parsed.Score)
	assert.Equal(t, "收费争议投诉", *parsed.Category)
}

func TestParseResponseGenericScoreKey(t *testing.T) {
	parsed := ParseResponse("custom_set", `{"score": 2.5, "category": "B类"}`)

	assert.Equal(t, ParseStructured, parsed.Method)
	require.NotNil(t, parsed.Score)
	assert.Equal(t, 2.5, *parsed.Score)
}

func TestParseResponseHeuristicFallback(t *testing.T) {
	text := "分析结果如下\n投诉严重度评分：3分\n类别判断：属于服务质量投诉"

	parsed := ParseResponse(DatasetCallComplaints, text)

	assert.Equal(t, ParseHeuristic, parsed.Method)
	require.NotNil(t, parsed.Score)
	assert.Equal(t, 3.0, *parsed.Score)
	require.NotNil(t, parsed.Category)
	assert.Equal(t, "服务质量投诉", *parsed.Category)
}

func TestParseResponseHeuristicAdKeywords(t *testing.T) {
	cases := []struct {
		line     string
		expected string
	}{
		{"这是正常评论", "正常评论"},
		{"明显在做APP推广", "APP推广广告"},
		{"留了QQ号引流", "QQ/微信联系广告"},
		{"指向外部网站", "网站推广广告"},
		{"典型的中奖诈骗话术", "诈骗类广告"},
		{"引导去直播间", "色情引流广告"},
		{"推广某款游戏", "游戏推广广告"},
		{"属于商业广告内容", "其他商业广告"},
	}

	for _, tc := range cases {
		parsed := ParseResponse(DatasetMangaAdDetection, tc.line)
		require.NotNil(t, parsed.Category, "line: %s", tc.line)
		assert.Equal(t, tc.expected, *parsed.Category, "line: %s", tc.line)
	}
}

func TestParseResponseHeuristicGrade(t *testing.T) {
	parsed := ParseResponse(DatasetUserCommentAd, "综合判断该评论为B级推广内容")

	assert.Equal(t, ParseHeuristic, parsed.Method)
	require.NotNil(t, parsed.Category)
	assert.Equal(t, "B级", *parsed.Category)
}

func TestParseResponseLaterLinesOverride(t *testing.T) {
	text := "初步评分：2分\n复核后最终评分：4分"

	parsed := ParseResponse(DatasetMangaAdDetection, text)

	require.NotNil(t, parsed.Score)
	assert.Equal(t, 4.0, *parsed.Score)
}

func TestParseResponseUnparseable(t *testing.T) {
	parsed := ParseResponse(DatasetMangaAdDetection, "今天天气不错")

	assert.Equal(t, ParseFailed, parsed.Method)
	assert.False(t, parsed.Parsed())
	assert.Nil(t, parsed.Score)
	assert.Nil(t, parsed.Category)
}

func TestParseResponseEmptyJSONFallsThrough(t *testing.T) {
	// JSON里没有可用字段，文本里也没有关键词，两个阶段都该失败
	parsed := ParseResponse("custom_set", `{"analysis": "ok"}`)

	assert.Equal(t, ParseFailed, parsed.Method)
}

func TestParseResponseBrokenJSONFallsToHeuristic(t *testing.T) {
	text := `{"ad_score": 4, "category": 未加引号的内容}` + "\n总体评分：4分"

	parsed := ParseResponse(DatasetMangaAdDetection, text)

	assert.Equal(t, ParseHeuristic, parsed.Method)
	require.NotNil(t, parsed.Score)
	assert.Equal(t, 4.0, *parsed.Score)
}

func TestScoreAccuracy(t *testing.T) {
	score := func(v float64) *float64 { return &v }

	cases := []struct {
		name     string
		model    *float64
		expected float64
		want     float64
	}{
		{"exact match", score(3), 3, 1.0},
		{"nil score", nil, 3, 0.0},
		{"off by max", score(0), 5, 0.0},
		{"partial", score(4), 5, 0.8},
		{"expected above five", score(8), 10, 0.8},
		{"huge difference clamps to zero", score(1000), 2, 0.0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, ScoreAccuracy(tc.model, tc.expected), 1e-9)
		})
	}
}

func TestCategoryMatch(t *testing.T) {
	cat := func(v string) *string { return &v }

	assert.True(t, CategoryMatch(DatasetMangaAdDetection, cat("正常评论"), "正常评论"))
	assert.False(t, CategoryMatch(DatasetMangaAdDetection, cat("游戏推广广告"), "正常评论"))
	assert.False(t, CategoryMatch(DatasetMangaAdDetection, nil, "正常评论"))

	// 投诉测试集按同义词表模糊匹配
	assert.True(t, CategoryMatch(DatasetCallComplaints, cat("服务问题"), "服务质量投诉"))
	assert.True(t, CategoryMatch(DatasetCallComplaints, cat("收费不合理"), "收费争议投诉"))
	assert.False(t, CategoryMatch(DatasetCallComplaints, cat("物流问题"), "服务质量投诉"))

	// 等级测试集接受双向包含
	assert.True(t, CategoryMatch(DatasetUserCommentAd, cat("A级推广"), "A级"))
	assert.True(t, CategoryMatch(DatasetUserCommentAd, cat("A"), "A级"))
	assert.False(t, CategoryMatch(DatasetUserCommentAd, cat("B级"), "A级"))
}
