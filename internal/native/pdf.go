package native

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"strconv"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/ledongthuc/pdf"

	"github.com/mattjoyce/transformd/internal/command"
)

// Option names understood by the PDF converters.
const (
	OptPage    = "page"
	OptDPI     = "dpi"
	OptQuality = "quality"
)

// PDFToText extracts the plain text of a PDF. pageLimit (when positive) stops
// after that many pages.
func PDFToText(ctx context.Context, src, dst string, opts command.Options) error {
	limit, err := intOption(opts, OptPageLimit, -1)
	if err != nil {
		return err
	}

	f, r, err := pdf.Open(src)
	if err != nil {
		return fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	fonts := make(map[string]*pdf.Font)
	pages := r.NumPage()
	if limit > 0 && limit < pages {
		pages = limit
	}
	for i := 1; i <= pages; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		for _, name := range p.Fonts() {
			if _, ok := fonts[name]; !ok {
				font := p.Font(name)
				fonts[name] = &font
			}
		}
		text, err := p.GetPlainText(fonts)
		if err != nil {
			return fmt.Errorf("page %d: %w", i, err)
		}
		b.WriteString(text)
		if !strings.HasSuffix(text, "\n") {
			b.WriteByte('\n')
		}
	}

	return os.WriteFile(dst, []byte(b.String()), 0o644)
}

// PDFToPNG renders one page of a PDF (option page, zero-based, default 0) as PNG.
func PDFToPNG(_ context.Context, src, dst string, opts command.Options) error {
	return renderPage(src, dst, opts, "png")
}

// PDFToJPEG renders one page of a PDF as JPEG (option quality, default 75).
func PDFToJPEG(_ context.Context, src, dst string, opts command.Options) error {
	return renderPage(src, dst, opts, "jpeg")
}

func renderPage(src, dst string, opts command.Options, format string) error {
	page, err := intOption(opts, OptPage, 0)
	if err != nil {
		return err
	}

	doc, err := fitz.New(src)
	if err != nil {
		return fmt.Errorf("open pdf: %w", err)
	}
	defer doc.Close()

	if page < 0 || page >= doc.NumPage() {
		return fmt.Errorf("option %s: page %d out of range (document has %d)", OptPage, page, doc.NumPage())
	}

	var img image.Image
	if raw := strings.TrimSpace(opts[OptDPI]); raw != "" {
		dpi, err := strconv.ParseFloat(raw, 64)
		if err != nil || dpi <= 0 {
			return fmt.Errorf("option %s: %q is not a positive number", OptDPI, raw)
		}
		img, err = doc.ImageDPI(page, dpi)
		if err != nil {
			return fmt.Errorf("render page %d: %w", page, err)
		}
	} else {
		img, err = doc.Image(page)
		if err != nil {
			return fmt.Errorf("render page %d: %w", page, err)
		}
	}

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	switch format {
	case "jpeg":
		quality, qerr := intOption(opts, OptQuality, jpeg.DefaultQuality)
		if qerr != nil {
			out.Close()
			return qerr
		}
		err = jpeg.Encode(out, img, &jpeg.Options{Quality: quality})
	default:
		err = png.Encode(out, img)
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("encode page %d: %w", page, err)
	}
	return nil
}
