package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pavelanni/gradeflow/internal/model"
)

func TestDetectType(t *testing.T) {
	tests := []struct {
		name   string
		want   FileType
		wantOK bool
	}{
		{"essay.pdf", TypePDF, true},
		{"ESSAY.PDF", TypePDF, true},
		{"report.docx", TypeDOCX, true},
		{"notes.txt", TypeText, true},
		{"calc.py", TypePython, true},
		{"analysis.ipynb", TypeNotebook, true},
		{"README.md", TypeMarkdown, true},
		{"image.png", "", false},
		{"noextension", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := DetectType(tt.name)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("DetectType(%q) = (%q, %v), want (%q, %v)", tt.name, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		size    int64
		maxSize int64
		wantErr error
	}{
		{"ok", "a.py", 100, 0, nil},
		{"exactly max", "a.py", DefaultMaxSize, 0, nil},
		{"too large default", "a.py", DefaultMaxSize + 1, 0, ErrTooLarge},
		{"too large custom", "a.py", 2 << 20, 1 << 20, ErrTooLarge},
		{"unsupported", "a.exe", 10, 0, ErrUnsupportedType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.file, tt.size, tt.maxSize)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestStudentName(t *testing.T) {
	tests := []struct {
		file string
		want string
	}{
		{"Jane Doe_hw1.py", "Jane Doe"},
		{"smith-assignment2.md", "smith"},
		{"John Smith.pdf", "John Smith"},
		{"report 2.txt", "report"},
		{"12345.txt", "12345"},
		{"dir/Alice_final.ipynb", "Alice"},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			if got := StudentName(tt.file); got != tt.want {
				t.Errorf("StudentName(%q) = %q, want %q", tt.file, got, tt.want)
			}
		})
	}
}

func TestTextPlainTypes(t *testing.T) {
	for _, name := range []string{"a.txt", "a.md", "a.py"} {
		t.Run(name, func(t *testing.T) {
			in := "def add(a, b):\n    return a + b  # sum\n"
			got, err := Text(name, []byte(in))
			if err != nil {
				t.Fatalf("Text: %v", err)
			}
			if got != in {
				t.Errorf("Text() = %q, want %q", got, in)
			}
		})
	}
}

func TestTextEmpty(t *testing.T) {
	got, err := Text("empty.txt", nil)
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	if got != "" {
		t.Errorf("Text() = %q, want empty", got)
	}
}

func TestTextRejectsBinary(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")
	if _, err := Text("fake.txt", png); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("expected ErrUnsupportedType for binary content, got %v", err)
	}
	if _, err := Text("fake.pdf", []byte("just some text")); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("expected ErrUnsupportedType for non-PDF content, got %v", err)
	}
	if _, err := Text("a.exe", []byte("MZ")); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("expected ErrUnsupportedType for unknown extension, got %v", err)
	}
}

func TestTextNotebook(t *testing.T) {
	nb := `{
  "cells": [
    {"cell_type": "markdown", "source": ["# Title\n", "Intro"]},
    {"cell_type": "code", "source": "print(1)\n"}
  ],
  "nbformat": 4
}`
	got, err := Text("analysis.ipynb", []byte(nb))
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	want := "# [markdown cell 1]\n# Title\nIntro\n\n# [code cell 2]\nprint(1)\n"
	if got != want {
		t.Errorf("Text() = %q, want %q", got, want)
	}
}

func TestTextNotebookInvalidReturnsRaw(t *testing.T) {
	raw := `{"not": "a notebook"`
	got, err := Text("broken.ipynb", []byte(raw))
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	if got != raw {
		t.Errorf("Text() = %q, want raw input", got)
	}
}

func buildDocx(t *testing.T, body string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatalf("create entry: %v", err)
	}
	doc := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
		`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
		body + `</w:body></w:document>`
	if _, err := w.Write([]byte(doc)); err != nil {
		t.Fatalf("write entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func TestTextDocx(t *testing.T) {
	data := buildDocx(t,
		`<w:p><w:r><w:t>Hello</w:t></w:r><w:r><w:t xml:space="preserve"> world</w:t></w:r></w:p>`+
			`<w:p><w:r><w:t>Second</w:t><w:tab/><w:t>para</w:t></w:r></w:p>`)

	got, err := Text("essay.docx", data)
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	want := "Hello world\nSecond\tpara\n"
	if got != want {
		t.Errorf("Text() = %q, want %q", got, want)
	}
}

func TestTextDocxInvalid(t *testing.T) {
	if _, err := Text("essay.docx", []byte("not a zip")); err == nil {
		t.Error("expected error for invalid DOCX")
	}
}

func TestReaderReadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stored-1")
	if err := os.WriteFile(path, []byte("print('hi')\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	r := Reader{}
	got, err := r.ReadFile(context.Background(), model.SubmissionFile{FileName: "hi.py", Path: path})
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got != "print('hi')\n" {
		t.Errorf("ReadFile() = %q", got)
	}

	small := Reader{MaxSize: 4}
	if _, err := small.ReadFile(context.Background(), model.SubmissionFile{FileName: "hi.py", Path: path}); !errors.Is(err, ErrTooLarge) {
		t.Errorf("expected ErrTooLarge, got %v", err)
	}

	_, err = r.ReadFile(context.Background(), model.SubmissionFile{FileName: "gone.py", Path: filepath.Join(dir, "missing")})
	if err == nil || !strings.Contains(err.Error(), "gone.py") {
		t.Errorf("expected open error naming the file, got %v", err)
	}
}

func TestReaderReadFileCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (Reader{}).ReadFile(ctx, model.SubmissionFile{FileName: "a.txt", Path: "/nonexistent"}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
