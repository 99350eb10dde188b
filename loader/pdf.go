package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

var (
	tjRe      = regexp.MustCompile(`\(((?:\\.|[^\\()])*)\)\s*(?:Tj|'|")`)
	tjArrayRe = regexp.MustCompile(`\[((?:\\.|[^\]])*)\]\s*TJ`)
	strRe     = regexp.MustCompile(`\(((?:\\.|[^\\()])*)\)`)
)

// ExtractText pulls the text content and page count out of a PDF file.
// Extraction is operator-level: it collects the literal strings shown by
// Tj/TJ operators, which is good enough for text-based PDFs. Scanned
// documents yield no text and are rejected upstream.
func ExtractText(path string) (string, int, error) {
	pages, err := api.PageCountFile(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to read PDF: %w", err)
	}

	outDir, err := os.MkdirTemp("", "rag-extract-*")
	if err != nil {
		return "", 0, err
	}
	defer os.RemoveAll(outDir)

	conf := api.LoadConfiguration()
	if err := api.ExtractContentFile(path, outDir, nil, conf); err != nil {
		return "", 0, fmt.Errorf("failed to extract PDF content: %w", err)
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		return "", 0, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(outDir, name))
		if err != nil {
			return "", 0, err
		}
		pageText := textFromContent(string(data))
		if pageText != "" {
			sb.WriteString(pageText)
			sb.WriteString("\n")
		}
	}

	text := sb.String()
	if strings.TrimSpace(text) == "" {
		return "", 0, fmt.Errorf("no text could be extracted from PDF")
	}
	return text, pages, nil
}

// textFromContent collects the literal strings from text-showing operators
// in a page content stream.
func textFromContent(content string) string {
	var parts []string

	for _, match := range tjRe.FindAllStringSubmatch(content, -1) {
		if s := unescapePDFString(match[1]); s != "" {
			parts = append(parts, s)
		}
	}
	for _, match := range tjArrayRe.FindAllStringSubmatch(content, -1) {
		for _, inner := range strRe.FindAllStringSubmatch(match[1], -1) {
			if s := unescapePDFString(inner[1]); s != "" {
				parts = append(parts, s)
			}
		}
	}

	return strings.TrimSpace(strings.Join(parts, " "))
}

func unescapePDFString(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 == len(s) {
			sb.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case 'n':
			sb.WriteByte('\n')
		case 't':
			sb.WriteByte('\t')
		case 'r', 'f', 'b':
			// layout escapes carry no text
		default:
			sb.WriteByte(s[i])
		}
	}
	return sb.String()
}
