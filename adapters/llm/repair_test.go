package llm_test

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/lingtin/lingtin/server/adapters/llm"
	"github.com/lingtin/lingtin/server/domain/entities"
)

const bareJSON = `{"correctedTranscript":"今天的清蒸鲈鱼很新鲜","aiSummary":"鲈鱼新鲜","sentimentScore":0.8,"keywords":["清蒸鲈鱼","新鲜"],"managerQuestions":[],"customerAnswers":["很新鲜"]}`

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
		ok      bool
	}{
		{"bare object", bareJSON, bareJSON, true},
		{"surrounding whitespace", "\n  " + bareJSON + "  \n", bareJSON, true},
		{"json fence", "```json\n" + bareJSON + "\n```", bareJSON, true},
		{"plain fence", "```\n" + bareJSON + "\n```\n", bareJSON, true},
		{"prose around object", "好的，结果如下：\n" + bareJSON + "\n希望对您有帮助。", bareJSON, true},
		{"fence and prose", "```json\n以下是结果 " + bareJSON + " 完毕\n```", bareJSON, true},
		{"nested braces", `{"a":{"b":1}}`, `{"a":{"b":1}}`, true},
		{"two objects greedy", `{"a":1} and {"b":2}`, `{"a":1} and {"b":2}`, true},
		{"no object", "抱歉，我无法处理。", "", false},
		{"only opening brace", "{ incomplete", "", false},
		{"empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := llm.ExtractJSON(tt.content)
			if ok != tt.ok {
				t.Fatalf("Expected ok=%v, got %v", tt.ok, ok)
			}
			if got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestExtractJSONIdempotentOnWrappers(t *testing.T) {
	bare, ok := llm.ExtractJSON(bareJSON)
	if !ok {
		t.Fatal("Expected bare JSON to be extracted")
	}

	wrapped := []string{
		"```json\n" + bareJSON + "\n```",
		"Here you go:\n```json\n" + bareJSON + "\n```\nDone.",
		"结果：" + bareJSON,
	}
	for _, content := range wrapped {
		got, ok := llm.ExtractJSON(content)
		if !ok || got != bare {
			t.Errorf("Expected %q from %q, got %q", bare, content, got)
		}
		again, _ := llm.ExtractJSON(got)
		if again != got {
			t.Errorf("Expected extraction to be idempotent, got %q", again)
		}
	}
}

func TestParseAnnotation(t *testing.T) {
	const transcript = "今天的清蒸路鱼很新鲜"

	t.Run("complete reply", func(t *testing.T) {
		annotation, err := llm.ParseAnnotation("```json\n"+bareJSON+"\n```", transcript)
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		want := entities.Annotation{
			CorrectedTranscript: "今天的清蒸鲈鱼很新鲜",
			Summary:             "鲈鱼新鲜",
			SentimentScore:      0.8,
			Keywords:            []string{"清蒸鲈鱼", "新鲜"},
			ManagerQuestions:    []string{},
			CustomerAnswers:     []string{"很新鲜"},
		}
		if !reflect.DeepEqual(annotation, want) {
			t.Errorf("Expected %+v, got %+v", want, annotation)
		}
	})

	t.Run("missing and mistyped fields", func(t *testing.T) {
		annotation, err := llm.ParseAnnotation(`{"correctedTranscript":42,"sentimentScore":"high","keywords":"鲈鱼","customerAnswers":["好",1]}`, transcript)
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if annotation.CorrectedTranscript != transcript {
			t.Errorf("Expected transcript echo, got %q", annotation.CorrectedTranscript)
		}
		if annotation.Summary != entities.DefaultSummary {
			t.Errorf("Expected default summary, got %q", annotation.Summary)
		}
		if annotation.SentimentScore != entities.DefaultSentimentScore {
			t.Errorf("Expected sentiment 0.5, got %v", annotation.SentimentScore)
		}
		if annotation.Keywords == nil || len(annotation.Keywords) != 0 {
			t.Errorf("Expected empty keywords, got %v", annotation.Keywords)
		}
		if annotation.ManagerQuestions == nil || len(annotation.ManagerQuestions) != 0 {
			t.Errorf("Expected empty manager questions, got %v", annotation.ManagerQuestions)
		}
		if !reflect.DeepEqual(annotation.CustomerAnswers, []string{"好"}) {
			t.Errorf("Expected only string answers, got %v", annotation.CustomerAnswers)
		}
	})

	t.Run("sentiment variants", func(t *testing.T) {
		tests := []struct {
			raw  string
			want float64
		}{
			{`{"sentimentScore":0}`, 0},
			{`{"sentimentScore":1}`, 1},
			{`{"sentimentScore":"0.3"}`, 0.3},
			{`{"sentimentScore":1.5}`, entities.DefaultSentimentScore},
			{`{"sentimentScore":-0.1}`, entities.DefaultSentimentScore},
			{`{"sentimentScore":null}`, entities.DefaultSentimentScore},
			{`{}`, entities.DefaultSentimentScore},
		}
		for _, tt := range tests {
			annotation, err := llm.ParseAnnotation(tt.raw, transcript)
			if err != nil {
				t.Fatalf("Expected no error for %s, got %v", tt.raw, err)
			}
			if annotation.SentimentScore != tt.want {
				t.Errorf("%s: expected %v, got %v", tt.raw, tt.want, annotation.SentimentScore)
			}
		}
	})

	t.Run("no json", func(t *testing.T) {
		_, err := llm.ParseAnnotation("无法分析", transcript)
		if !errors.Is(err, llm.ErrAnnotationParse) {
			t.Errorf("Expected ErrAnnotationParse, got %v", err)
		}
	})

	t.Run("invalid json", func(t *testing.T) {
		_, err := llm.ParseAnnotation(`{"correctedTranscript": "今天的清蒸鲈鱼",}`, transcript)
		if !errors.Is(err, llm.ErrAnnotationParse) {
			t.Errorf("Expected ErrAnnotationParse, got %v", err)
		}
	})
}

func TestFallbackAnnotation(t *testing.T) {
	annotation := llm.FallbackAnnotation("今天的清蒸路鱼很新鲜")

	if annotation.CorrectedTranscript != "今天的清蒸路鱼很新鲜" {
		t.Errorf("Expected transcript echo, got %q", annotation.CorrectedTranscript)
	}
	if annotation.SentimentScore != 0.5 {
		t.Errorf("Expected sentiment 0.5, got %v", annotation.SentimentScore)
	}
	if annotation.Summary == "" || annotation.Keywords == nil || annotation.ManagerQuestions == nil || annotation.CustomerAnswers == nil {
		t.Errorf("Expected every field to be filled, got %+v", annotation)
	}
}

func TestBuildSystemPrompt(t *testing.T) {
	vocabulary := make([]string, 0, 40)
	for i := 0; i < 40; i++ {
		vocabulary = append(vocabulary, "菜"+strings.Repeat("品", i+1))
	}

	prompt := llm.BuildSystemPrompt(vocabulary)
	if !strings.Contains(prompt, vocabulary[29]) {
		t.Error("Expected the 30th dish name in the prompt")
	}
	if strings.Contains(prompt, vocabulary[30]) {
		t.Error("Expected vocabulary to be capped at 30 entries")
	}
	if !strings.Contains(prompt, vocabulary[0]+"、"+vocabulary[1]) {
		t.Error("Expected dish names joined with 、")
	}

	if got := llm.BuildUserMessage("你好"); got != "对话文本：\n你好" {
		t.Errorf("Unexpected user message %q", got)
	}
}
