package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"text/template"

	"github.com/pavelanni/gradeflow/internal/model"
)

//go:embed templates/*.txt
var templateFS embed.FS

// PromptVariant represents a grading prompt variant.
type PromptVariant string

const (
	// PromptStrict asks the model to grade strictly against the criteria.
	PromptStrict PromptVariant = "strict"
	// PromptStandard is the default grading prompt.
	PromptStandard PromptVariant = "standard"
	// PromptLenient asks the model to give credit for partial work.
	PromptLenient PromptVariant = "lenient"
)

var validVariants = map[PromptVariant]bool{
	PromptStrict:   true,
	PromptStandard: true,
	PromptLenient:  true,
}

var (
	loadOnce        sync.Once
	loadErr         error
	gradingTemplate *template.Template
	stances         map[PromptVariant]string
)

// IsValidVariant checks if a prompt variant name is valid.
func IsValidVariant(v string) bool {
	return validVariants[PromptVariant(v)]
}

// GradingData holds template data for the grading prompt.
type GradingData struct {
	Title           string
	Description     string
	Instructions    string
	MarkingCriteria string
	StudentName     string
	FileName        string
	Content         string
	Stance          string
}

// Load parses the grading template and stance texts from fsys.
// It uses sync.Once to ensure templates are loaded only once.
func Load(fsys fs.FS) error {
	loadOnce.Do(func() {
		content, err := fs.ReadFile(fsys, "templates/grading.txt")
		if err != nil {
			loadErr = errors.New("failed to read prompt file templates/grading.txt: " + err.Error())
			return
		}
		tmpl, err := template.New("grading").Parse(strings.TrimSuffix(string(content), "\n"))
		if err != nil {
			loadErr = errors.New("failed to parse prompt template templates/grading.txt: " + err.Error())
			return
		}

		loaded := map[PromptVariant]string{PromptStandard: ""}
		for _, v := range []PromptVariant{PromptStrict, PromptLenient} {
			file := "templates/stance_" + string(v) + ".txt"
			stance, err := fs.ReadFile(fsys, file)
			if err != nil {
				loadErr = errors.New("failed to read prompt file " + file + ": " + err.Error())
				return
			}
			loaded[v] = strings.TrimSpace(string(stance))
		}

		gradingTemplate = tmpl
		stances = loaded
	})
	return loadErr
}

// BuildGradingPrompt renders the grading prompt for one submission. Assessment and
// submission text is interpolated verbatim.
func BuildGradingPrompt(variant PromptVariant, a model.Assessment, sub model.SubmissionContent) (string, error) {
	if err := Load(templateFS); err != nil {
		return "", fmt.Errorf("templates load failed: %w", err)
	}
	stance, ok := stances[variant]
	if !ok {
		return "", errors.New("invalid prompt variant: " + string(variant))
	}

	data := GradingData{
		Title:           a.Title,
		Description:     a.Description,
		Instructions:    a.Instructions,
		MarkingCriteria: a.MarkingCriteria,
		StudentName:     sub.StudentName,
		FileName:        sub.FileName,
		Content:         sub.FileContent,
		Stance:          stance,
	}

	var buf bytes.Buffer
	if err := gradingTemplate.Execute(&buf, data); err != nil {
		return "", err
	}

	return buf.String(), nil
}
