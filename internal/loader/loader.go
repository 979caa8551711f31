// Package loader reads uploaded documents into plain text.
//
// Plain-text formats (txt, md) are handled natively with an encoding
// fallback chain for files that are not UTF-8. Binary formats (pdf, docx)
// are accepted at the extension gate but require a registered Extractor.
package loader

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
)

var (
	// ErrUnsupportedType indicates a file extension outside the allow-list.
	ErrUnsupportedType = errors.New("unsupported file type")

	// ErrNoExtractor indicates a supported binary format with no extractor
	// registered for it.
	ErrNoExtractor = errors.New("no extractor registered for file type")
)

// supportedExtensions is the upload allow-list, keyed by lowercase
// extension including the dot.
var supportedExtensions = map[string]bool{
	".pdf":  true,
	".txt":  true,
	".docx": true,
	".md":   true,
}

// textExtensions are read natively.
var textExtensions = map[string]bool{
	".txt": true,
	".md":  true,
}

// Extractor converts one binary document format to plain text.
type Extractor interface {
	Extract(path string) (string, error)
}

// Loader turns files into text plus source metadata.
type Loader struct {
	extractors map[string]Extractor
}

// New creates a Loader with no binary extractors registered.
func New() *Loader {
	return &Loader{extractors: make(map[string]Extractor)}
}

// Register installs an extractor for an extension (".pdf", ".docx"). The
// extension must be on the allow-list.
func (l *Loader) Register(ext string, e Extractor) error {
	ext = strings.ToLower(ext)
	if !supportedExtensions[ext] {
		return fmt.Errorf("%w: %s", ErrUnsupportedType, ext)
	}
	l.extractors[ext] = e
	return nil
}

// IsSupported reports whether the filename's extension is on the
// allow-list.
func IsSupported(filename string) bool {
	return supportedExtensions[strings.ToLower(filepath.Ext(filename))]
}

// SupportedExtensions returns the allow-list without the dots.
func SupportedExtensions() []string {
	return []string{"pdf", "txt", "docx", "md"}
}

// Load reads the file at path and returns its text and source metadata
// {filename, file_type}. The metadata feeds the chunk ids, so the filename
// is the base name only.
func (l *Loader) Load(path string) (string, map[string]string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !supportedExtensions[ext] {
		return "", nil, fmt.Errorf("%w: %s", ErrUnsupportedType, ext)
	}

	var text string
	if textExtensions[ext] {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", nil, fmt.Errorf("read %s: %w", path, err)
		}
		text = decodeText(data)
	} else {
		extractor, ok := l.extractors[ext]
		if !ok {
			return "", nil, fmt.Errorf("%w: %s", ErrNoExtractor, ext)
		}
		var err error
		text, err = extractor.Extract(path)
		if err != nil {
			return "", nil, fmt.Errorf("extract %s: %w", path, err)
		}
	}

	metadata := map[string]string{
		"filename":  filepath.Base(path),
		"file_type": strings.TrimPrefix(ext, "."),
	}
	return text, metadata, nil
}

// decodeText decodes file bytes as UTF-8, then GB18030, then Latin-1.
// The GB18030 decoder substitutes U+FFFD for invalid sequences instead of
// failing, so a substitution is treated as a miss. Latin-1 maps every byte
// and always produces a string.
func decodeText(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	if decoded, err := simplifiedchinese.GB18030.NewDecoder().Bytes(data); err == nil {
		if !strings.ContainsRune(string(decoded), utf8.RuneError) {
			return string(decoded)
		}
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return string(data)
	}
	return string(decoded)
}
