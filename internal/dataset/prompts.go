package dataset

import (
	"fmt"

	"inferbench/internal/model"
)

// 投诉分析提示词模板
const callComplaintsTemplate = `请分析以下通话语义内容，并进行投诉分类评估：

通话内容：%s

请按照以下要求进行分析：
1. 判断投诉类别：服务质量投诉、产品功能投诉、收费争议投诉、技术故障投诉、态度问题投诉、无投诉内容
2. 评估投诉严重度（1-5分）：1分=轻微不满，2分=一般投诉，3分=严重投诉，4分=非常严重，5分=极度严重
3. 提供简要分析说明

请以JSON格式回复：
{
  "category": "投诉类别",
  "severity_score": 评分数字,
  "analysis": "分析说明"
}`

// 广告检测提示词模板
const mangaAdTemplate = `请分析以下漫画评论，判断是否为广告内容：

评论内容：%s

请按照以下要求进行分析：
1. 判断是否为广告（0-5分）：0分=正常评论，1分=疑似广告，2分=可能是广告，3分=很可能是广告，4分=确定是广告，5分=明显垃圾广告
2. 广告类型分类：正常评论、APP推广广告、QQ/微信联系广告、网站推广广告、诈骗类广告、色情引流广告、游戏推广广告、其他商业广告
3. 提供判断依据说明

请以JSON格式回复：
{
  "ad_score": 评分数字,
  "category": "广告类型",
  "analysis": "判断依据说明"
}`

// 通用提示词模板
const genericTemplate = `请分析以下内容：

内容：%s

预期类别：%s
预期评分：%g

请提供你的分析结果。`

// RenderPrompt 为样本渲染推理提示词，按测试集选择内置模板
func (s *Source) RenderPrompt(name string, sample model.TestSample) string {
	switch name {
	case DatasetCallComplaints:
		return fmt.Sprintf(callComplaintsTemplate, sample.Content)
	case DatasetMangaAdDetection:
		return fmt.Sprintf(mangaAdTemplate, sample.Content)
	default:
		return fmt.Sprintf(genericTemplate, sample.Content, sample.Category, sample.ExpectedScore)
	}
}
