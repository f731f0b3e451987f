package store

import (
	"bytes"
	"fmt"
	"strings"
	"unicode"

	"github.com/ledongthuc/pdf"
)

const (
	// maxPDFPages limits how deep extraction goes on pathological files.
	maxPDFPages = 100

	// maxExtractedTextSize caps extracted text at 1MB; the token budget trims
	// much harder anyway.
	maxExtractedTextSize = 1024 * 1024
)

// ExtractPDFText pulls plain text out of a downloaded PDF. It is the
// fallback for documents the store has no OCR text for yet.
func ExtractPDFText(data []byte) (string, error) {
	reader := bytes.NewReader(data)
	pdfReader, err := pdf.NewReader(reader, int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}

	totalPages := pdfReader.NumPage()
	if totalPages == 0 {
		return "", fmt.Errorf("PDF has no pages")
	}
	if totalPages > maxPDFPages {
		totalPages = maxPDFPages
	}

	var textBuilder strings.Builder
	for pageNum := 1; pageNum <= totalPages; pageNum++ {
		page := pdfReader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			// Skip pages with extraction errors, don't fail completely
			continue
		}

		cleaned := cleanPDFText(text)
		if cleaned != "" {
			textBuilder.WriteString(cleaned)
			textBuilder.WriteString("\n")
		}

		if textBuilder.Len() > maxExtractedTextSize {
			break
		}
	}

	extracted := textBuilder.String()
	if len(extracted) > maxExtractedTextSize {
		extracted = extracted[:maxExtractedTextSize]
	}
	return strings.TrimSpace(extracted), nil
}

// cleanPDFText strips null bytes and collapses runs of whitespace.
func cleanPDFText(text string) string {
	text = strings.ReplaceAll(text, "\x00", "")

	var result strings.Builder
	lastWasSpace := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			if !lastWasSpace {
				if r == '\n' {
					result.WriteRune('\n')
					lastWasSpace = false
				} else {
					result.WriteRune(' ')
					lastWasSpace = true
				}
			}
		} else {
			result.WriteRune(r)
			lastWasSpace = false
		}
	}

	return strings.TrimSpace(result.String())
}
