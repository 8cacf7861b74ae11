package native

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path"
	"strings"

	"github.com/mattjoyce/transformd/internal/command"
)

// previewSources are the zip containers that carry a rendered first-page
// image: iWork documents and Office Open XML files.
var previewSources = []string{"pages", "numbers", "key", "docx", "xlsx", "pptx"}

// previewEntries lists where each container family keeps its preview, in
// lookup order. Names are matched case-insensitively.
var previewEntries = []string{
	"preview.jpg",
	"QuickLook/Thumbnail.jpg",
	"QuickLook/Preview.jpg",
	"preview-web.jpg",
	"docProps/thumbnail.jpeg",
	"docProps/thumbnail.jpg",
	"QuickLook/Thumbnail.png",
	"docProps/thumbnail.png",
}

// ErrNoPreview is returned when a container holds no embedded preview image.
var ErrNoPreview = errors.New("no embedded preview image")

// PreviewToJPEG writes the preview image embedded in an iWork or Office Open
// XML document. JPEG previews are copied as is; PNG previews are re-encoded
// (option quality).
func PreviewToJPEG(ctx context.Context, src, dst string, opts command.Options) error {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("open container: %w", err)
	}
	defer zr.Close()

	f := findPreview(zr.File)
	if f == nil {
		return ErrNoPreview
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if strings.EqualFold(path.Ext(f.Name), ".png") {
		err = reencodeJPEG(out, rc, opts)
	} else {
		_, err = io.Copy(out, rc)
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("extract %s: %w", f.Name, err)
	}
	return nil
}

func findPreview(files []*zip.File) *zip.File {
	for _, want := range previewEntries {
		for _, f := range files {
			if strings.EqualFold(f.Name, want) && f.UncompressedSize64 > 0 {
				return f
			}
		}
	}
	return nil
}

func reencodeJPEG(w io.Writer, r io.Reader, opts command.Options) error {
	quality, err := intOption(opts, OptQuality, jpeg.DefaultQuality)
	if err != nil {
		return err
	}
	img, err := png.Decode(r)
	if err != nil {
		return err
	}
	return jpeg.Encode(w, flatten(img), &jpeg.Options{Quality: quality})
}

// flatten draws img over white; JPEG has no transparency.
func flatten(img image.Image) image.Image {
	b := img.Bounds()
	out := image.NewRGBA(b)
	draw.Draw(out, b, image.White, image.Point{}, draw.Src)
	draw.Draw(out, b, img, b.Min, draw.Over)
	return out
}
