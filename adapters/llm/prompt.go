package llm

import (
	"fmt"
	"strings"
)

// MaxVocabulary is the number of dish names sent to the model for correction
const MaxVocabulary = 30

const systemPromptTemplate = `分析餐饮桌访对话，提取结构化信息。

菜单参考（用于纠错）：%s

输出JSON格式（只输出JSON，无其他内容）：
{
  "correctedTranscript": "纠偏后的完整文本（修正菜名错字）",
  "aiSummary": "20字以内摘要",
  "sentimentScore": 0.5,
  "keywords": ["关键词1", "关键词2"],
  "managerQuestions": ["店长问的问题1", "店长问的问题2"],
  "customerAnswers": ["顾客的回答1", "顾客的回答2"]
}

规则：
1. sentimentScore: 0-1分，0=极差，0.5=中性，1=极好
2. keywords: 提取关键词（菜名、形容词、服务词等），最多10个
3. managerQuestions: 店长/服务员说的话（通常是问候或询问）
4. customerAnswers: 顾客的回复内容
5. 如果某项为空，返回空数组[]`

// BuildSystemPrompt renders the instruction with at most MaxVocabulary dish names
func BuildSystemPrompt(vocabulary []string) string {
	if len(vocabulary) > MaxVocabulary {
		vocabulary = vocabulary[:MaxVocabulary]
	}
	return fmt.Sprintf(systemPromptTemplate, strings.Join(vocabulary, "、"))
}

// BuildUserMessage wraps the raw transcript
func BuildUserMessage(transcript string) string {
	return "对话文本：\n" + transcript
}
