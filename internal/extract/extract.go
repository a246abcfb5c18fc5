// Package extract converts uploaded submission and criteria files into plain text.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"

	"github.com/pavelanni/gradeflow/internal/model"
)

// FileType is a supported upload type.
type FileType string

const (
	TypePDF      FileType = "pdf"
	TypeDOCX     FileType = "docx"
	TypeText     FileType = "txt"
	TypePython   FileType = "py"
	TypeNotebook FileType = "ipynb"
	TypeMarkdown FileType = "md"
)

// DefaultMaxSize is the largest accepted upload.
const DefaultMaxSize int64 = 10 << 20

var (
	// ErrUnsupportedType indicates the file extension or content is not accepted.
	ErrUnsupportedType = errors.New("unsupported file type")
	// ErrTooLarge indicates the file exceeds the size limit.
	ErrTooLarge = errors.New("file exceeds maximum allowed size")
)

var extensions = map[string]FileType{
	".pdf":   TypePDF,
	".docx":  TypeDOCX,
	".txt":   TypeText,
	".py":    TypePython,
	".ipynb": TypeNotebook,
	".md":    TypeMarkdown,
}

// SupportedExtensions lists accepted extensions in display order.
var SupportedExtensions = []string{".pdf", ".docx", ".txt", ".py", ".ipynb", ".md"}

// Checked in order; a bare name wins over the "name<sep>rest" forms.
var studentNamePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^([a-zA-Z\s]+)$`),
	regexp.MustCompile(`^([a-zA-Z\s]+)_`),
	regexp.MustCompile(`^([a-zA-Z\s]+)-`),
	regexp.MustCompile(`^([a-zA-Z\s]+)\s`),
}

// DetectType returns the file type for a file name, or false if unsupported.
func DetectType(fileName string) (FileType, bool) {
	t, ok := extensions[strings.ToLower(filepath.Ext(fileName))]
	return t, ok
}

// Validate checks size and type of an upload before it is accepted.
func Validate(fileName string, size, maxSize int64) error {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if size > maxSize {
		return fmt.Errorf("%w: limit is %d MB", ErrTooLarge, maxSize>>20)
	}
	if _, ok := DetectType(fileName); !ok {
		return fmt.Errorf("%w: supported types: %s", ErrUnsupportedType, strings.Join(SupportedExtensions, ", "))
	}
	return nil
}

// StudentName derives a student name from a file name, e.g. "Jane Doe_hw1.py" -> "Jane Doe".
// It falls back to the file name without extension.
func StudentName(fileName string) string {
	base := strings.TrimSuffix(filepath.Base(fileName), filepath.Ext(fileName))
	for _, p := range studentNamePatterns {
		if m := p.FindStringSubmatch(base); m != nil && strings.TrimSpace(m[1]) != "" {
			return strings.TrimSpace(m[1])
		}
	}
	return base
}

// Text extracts plain text from file data according to its type.
func Text(fileName string, data []byte) (string, error) {
	ft, ok := DetectType(fileName)
	if !ok {
		return "", fmt.Errorf("%s: %w", fileName, ErrUnsupportedType)
	}

	mt := mimetype.Detect(data)
	switch ft {
	case TypePDF:
		if !mt.Is("application/pdf") {
			return "", fmt.Errorf("%s: content is %s, not PDF: %w", fileName, mt.String(), ErrUnsupportedType)
		}
		return pdfText(data)
	case TypeDOCX:
		return docxText(data)
	case TypeNotebook:
		return notebookText(data), nil
	default:
		if len(data) == 0 {
			return "", nil
		}
		if !isText(mt) {
			return "", fmt.Errorf("%s: content is %s, not text: %w", fileName, mt.String(), ErrUnsupportedType)
		}
		return string(data), nil
	}
}

func isText(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "text/") {
			return true
		}
	}
	return false
}

func pdfText(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to parse PDF: %w", err)
	}
	var sb strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("failed to parse PDF page %d: %w", i, err)
		}
		sb.WriteString(strings.Join(strings.Fields(text), " "))
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

type notebook struct {
	Cells []struct {
		CellType string          `json:"cell_type"`
		Source   json.RawMessage `json:"source"`
	} `json:"cells"`
}

// notebookText renders notebook cells as text. Notebooks that do not parse are returned raw.
func notebookText(data []byte) string {
	var nb notebook
	if err := json.Unmarshal(data, &nb); err != nil || len(nb.Cells) == 0 {
		return string(data)
	}
	var sb strings.Builder
	for i, c := range nb.Cells {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "# [%s cell %d]\n", c.CellType, i+1)
		sb.WriteString(cellSource(c.Source))
		if !strings.HasSuffix(sb.String(), "\n") {
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// cellSource accepts both notebook source encodings: a string or a list of lines.
func cellSource(raw json.RawMessage) string {
	var lines []string
	if err := json.Unmarshal(raw, &lines); err == nil {
		return strings.Join(lines, "")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

// Reader loads submission file content from disk.
type Reader struct {
	MaxSize int64
}

// ReadFile reads and extracts the text of a stored submission file.
func (r Reader) ReadFile(ctx context.Context, f model.SubmissionFile) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	fh, err := os.Open(f.Path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", f.FileName, err)
	}
	defer fh.Close()

	maxSize := r.MaxSize
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	data, err := io.ReadAll(io.LimitReader(fh, maxSize+1))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", f.FileName, err)
	}
	if int64(len(data)) > maxSize {
		return "", fmt.Errorf("%s: %w", f.FileName, ErrTooLarge)
	}
	return Text(f.FileName, data)
}
