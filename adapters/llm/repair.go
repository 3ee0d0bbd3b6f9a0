package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/lingtin/lingtin/server/domain/entities"
)

// ErrAnnotationParse is returned when a model reply holds no usable JSON object
var ErrAnnotationParse = errors.New("annotation response could not be parsed")

var (
	jsonFenceOpen  = regexp.MustCompile("^```json\\s*")
	plainFenceOpen = regexp.MustCompile("^```\\s*")
	fenceClose     = regexp.MustCompile("```\\s*$")

	// Greedy: spans from the first '{' to the last '}'. Two separate objects in one
	// reply are extracted together and then fail to parse.
	jsonObject = regexp.MustCompile(`(?s)\{.*\}`)
)

// ExtractJSON strips code fences and surrounding prose from a model reply and
// returns the outermost brace-delimited span.
func ExtractJSON(content string) (string, bool) {
	clean := strings.TrimSpace(content)
	switch {
	case strings.HasPrefix(clean, "```json"):
		clean = fenceClose.ReplaceAllString(jsonFenceOpen.ReplaceAllString(clean, ""), "")
	case strings.HasPrefix(clean, "```"):
		clean = fenceClose.ReplaceAllString(plainFenceOpen.ReplaceAllString(clean, ""), "")
	}

	match := jsonObject.FindString(clean)
	if match == "" {
		return "", false
	}
	return match, true
}

// ParseAnnotation decodes a model reply into an Annotation. Every field that is
// missing or of the wrong type gets its fallback value.
func ParseAnnotation(content, transcript string) (entities.Annotation, error) {
	raw, ok := ExtractJSON(content)
	if !ok {
		return entities.Annotation{}, fmt.Errorf("%w: no JSON object found", ErrAnnotationParse)
	}

	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return entities.Annotation{}, fmt.Errorf("%w: %v", ErrAnnotationParse, err)
	}

	annotation := entities.Annotation{
		CorrectedTranscript: stringField(fields, "correctedTranscript"),
		Summary:             stringField(fields, "aiSummary"),
		SentimentScore:      scoreField(fields, "sentimentScore"),
		Keywords:            listField(fields, "keywords"),
		ManagerQuestions:    listField(fields, "managerQuestions"),
		CustomerAnswers:     listField(fields, "customerAnswers"),
	}
	annotation.Normalize(transcript)
	return annotation, nil
}

// FallbackAnnotation is the result for a transcript the model could not annotate
func FallbackAnnotation(transcript string) entities.Annotation {
	annotation := entities.Annotation{SentimentScore: entities.DefaultSentimentScore}
	annotation.Normalize(transcript)
	return annotation
}

func stringField(fields map[string]interface{}, key string) string {
	s, _ := fields[key].(string)
	return s
}

// scoreField accepts numbers and numeric strings in [0, 1]
func scoreField(fields map[string]interface{}, key string) float64 {
	var score float64
	switch v := fields[key].(type) {
	case float64:
		score = v
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return entities.DefaultSentimentScore
		}
		score = parsed
	default:
		return entities.DefaultSentimentScore
	}
	if score < 0 || score > 1 {
		return entities.DefaultSentimentScore
	}
	return score
}

// listField keeps the string elements of a JSON array
func listField(fields map[string]interface{}, key string) []string {
	items, ok := fields[key].([]interface{})
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
