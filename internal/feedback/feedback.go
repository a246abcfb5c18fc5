// Package feedback turns free-form LLM grading responses into normalized evaluations.
package feedback

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/pavelanni/gradeflow/internal/model"
)

var (
	jsonFenceRegex = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")
	anyFenceRegex  = regexp.MustCompile("(?s)```\\s*(.*?)\\s*```")
	jsonObjRegex   = regexp.MustCompile(`(?s)\{.*\}`)
)

// Defaults used when a parsed payload leaves a free-text field empty.
const (
	DefaultFeedback         = "No feedback provided"
	DefaultDetailedFeedback = "No detailed feedback provided"
)

// Fallback values used when no JSON payload can be recovered.
const (
	FallbackScore            = 50
	FallbackFeedback         = "AI grading completed but response format was unexpected."
	FallbackDetailedFeedback = "Unable to parse detailed feedback from AI response."
	FallbackMinorArea        = "Unable to parse minor areas for improvement"
	FallbackStrength         = "Content submitted for review"
	FallbackWeakness         = "Unable to parse detailed feedback"
	FallbackSuggestion       = "Please review the submission manually"
)

// ParseResult is the outcome of ParseResponse.
type ParseResult struct {
	Evaluation model.Evaluation
	// Fallback is set when the response held no usable JSON payload.
	Fallback bool
	// Err is the reason the fallback was used, if any.
	Err error
}

// StripCodeFences unwraps every markdown fenced code block (tagged json or untagged),
// keeping the fenced contents.
func StripCodeFences(text string) string {
	text = jsonFenceRegex.ReplaceAllString(text, "$1")
	return anyFenceRegex.ReplaceAllString(text, "$1")
}

// ExtractJSONObject returns the span from the first '{' to the last '}' in text.
// It is a pattern heuristic, not a parser: the span is not guaranteed to be valid JSON.
func ExtractJSONObject(text string) (string, bool) {
	m := jsonObjRegex.FindString(text)
	return m, m != ""
}

// CleanText strips code fences from a free-text field. When the remaining text is itself
// a JSON object carrying a "feedback" or "detailedFeedback" string, that string is returned.
func CleanText(text string) string {
	if text == "" {
		return ""
	}
	cleaned := StripCodeFences(text)
	trimmed := strings.TrimSpace(cleaned)
	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		var nested map[string]any
		if err := json.Unmarshal([]byte(trimmed), &nested); err == nil {
			if s, ok := nested["feedback"].(string); ok && s != "" {
				return s
			}
			if s, ok := nested["detailedFeedback"].(string); ok && s != "" {
				return s
			}
		}
	}
	return trimmed
}

// ParseResponse normalizes a raw LLM response. It never fails: when no JSON payload can
// be recovered the fixed fallback evaluation is returned and Fallback is set.
func ParseResponse(raw string) ParseResult {
	cleaned := StripCodeFences(raw)
	obj, ok := ExtractJSONObject(cleaned)
	if !ok {
		return fallback(raw, fmt.Errorf("no JSON object in response"))
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(obj), &payload); err != nil {
		return fallback(raw, fmt.Errorf("parse response JSON: %w", err))
	}

	return ParseResult{Evaluation: model.Evaluation{
		Score:                    toScore(payload["score"]),
		Feedback:                 textField(payload["feedback"], DefaultFeedback),
		DetailedFeedback:         textField(payload["detailedFeedback"], DefaultDetailedFeedback),
		MinorAreasForImprovement: listField(payload["minorAreasForImprovement"]),
		Strengths:                listField(payload["strengths"]),
		Weaknesses:               listField(payload["weaknesses"]),
		Suggestions:              listField(payload["suggestions"]),
	}}
}

// Parse is a shorthand for ParseResponse(raw).Evaluation.
func Parse(raw string) model.Evaluation {
	return ParseResponse(raw).Evaluation
}

func fallback(raw string, err error) ParseResult {
	fb := CleanText(raw)
	if fb == "" {
		fb = FallbackFeedback
	}
	return ParseResult{
		Evaluation: model.Evaluation{
			Score:                    FallbackScore,
			Feedback:                 fb,
			DetailedFeedback:         FallbackDetailedFeedback,
			MinorAreasForImprovement: []string{FallbackMinorArea},
			Strengths:                []string{FallbackStrength},
			Weaknesses:               []string{FallbackWeakness},
			Suggestions:              []string{FallbackSuggestion},
		},
		Fallback: true,
		Err:      err,
	}
}

func toScore(v any) int {
	var f float64
	switch s := v.(type) {
	case float64:
		f = s
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}
	if math.IsNaN(f) {
		return 0
	}
	return model.ClampScore(int(math.Round(math.Max(-1, math.Min(101, f)))))
}

func textField(v any, def string) string {
	s := stringify(v)
	if s == "" {
		s = def
	}
	return CleanText(s)
}

func listField(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, CleanText(stringify(item)))
	}
	return out
}

// stringify renders a decoded JSON value as text. Objects and arrays are re-encoded so that
// CleanText can unwrap nested feedback objects.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}
