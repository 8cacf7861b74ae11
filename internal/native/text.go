package native

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/gogs/chardet"
	"github.com/jung-kurt/gofpdf"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/mattjoyce/transformd/internal/command"
)

// Option names understood by the text converters.
const (
	OptSourceEncoding = "sourceEncoding"
	OptTargetEncoding = "targetEncoding"
	OptPageLimit      = "pageLimit"
)

const defaultEncoding = "utf-8"

// TextToText re-encodes a text file from sourceEncoding (detected when unset)
// to targetEncoding (UTF-8 when unset). Characters the target cannot
// represent are replaced.
func TextToText(_ context.Context, src, dst string, opts command.Options) error {
	text, err := readText(src, opts[OptSourceEncoding])
	if err != nil {
		return err
	}

	targetName := opts[OptTargetEncoding]
	if strings.TrimSpace(targetName) == "" {
		targetName = defaultEncoding
	}
	enc, err := lookupEncoding(targetName)
	if err != nil {
		return err
	}

	out, err := encoding.ReplaceUnsupported(enc.NewEncoder()).String(text)
	if err != nil {
		return fmt.Errorf("encode %s: %w", targetName, err)
	}
	return os.WriteFile(dst, []byte(out), 0o644)
}

// TextToPDF lays a text file out on A4 pages. pageLimit (when positive) stops
// output after that many pages.
func TextToPDF(_ context.Context, src, dst string, opts command.Options) error {
	text, err := readText(src, opts[OptSourceEncoding])
	if err != nil {
		return err
	}
	limit, err := intOption(opts, OptPageLimit, -1)
	if err != nil {
		return err
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.SetAutoPageBreak(true, 15)
	truncated := false
	pdf.SetAcceptPageBreakFunc(func() bool {
		if limit > 0 && pdf.PageNo() >= limit {
			truncated = true
			return false
		}
		return true
	})
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.AddPage()
	text = strings.ReplaceAll(strings.ReplaceAll(text, "\r\n", "\n"), "\t", "    ")
	for _, line := range strings.Split(text, "\n") {
		if truncated {
			break
		}
		pdf.MultiCell(0, 5, tr(line), "", "L", false)
	}

	if err := pdf.OutputFileAndClose(dst); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}

// readText loads a file as UTF-8. An empty encoding name means "detect": valid
// UTF-8 is taken as is, anything else goes through charset detection.
func readText(path, encodingName string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", nil
	}

	name := strings.TrimSpace(encodingName)
	if name == "" {
		if utf8.Valid(data) {
			return string(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))), nil
		}
		name = detectEncoding(data)
	}

	enc, err := lookupEncoding(name)
	if err != nil {
		return "", err
	}
	decoded, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", name, err)
	}
	return string(decoded), nil
}

func detectEncoding(data []byte) string {
	res, err := chardet.NewTextDetector().DetectBest(data)
	if err != nil || res == nil {
		return "windows-1252"
	}
	if _, err := htmlindex.Get(res.Charset); err != nil {
		return "windows-1252"
	}
	return res.Charset
}

func lookupEncoding(name string) (encoding.Encoding, error) {
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unknown encoding %q", name)
	}
	return enc, nil
}

func intOption(opts command.Options, name string, def int) (int, error) {
	raw, ok := opts[name]
	if !ok || strings.TrimSpace(raw) == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("option %s: %q is not an integer", name, raw)
	}
	return n, nil
}
