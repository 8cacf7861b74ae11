package tool

import (
	"strings"
	"time"

	"github.com/mattjoyce/transformd/internal/command"
)

// ImageMagickName is the engine name of the built-in ImageMagick tool.
const ImageMagickName = "imagemagick"

// ImageMagickExitCodes are the non-zero exits of convert that mean "could not
// convert this input" rather than a broken installation.
const ImageMagickExitCodes = "1,2,255,400,405,410,415,420,425,430,435,440,450,455,460,465,470,475,480,485,490,495,499," +
	"700,705,710,715,720,725,730,735,740,750,755,760,765,770,775,780,785,790,795,799"

// ImageMagickOptions configures NewImageMagick.
type ImageMagickOptions struct {
	// Exe is the convert executable.
	Exe string
	// Dyn is the dynamic library search path.
	Dyn string
	// Root is the installation root.
	Root string

	Timeout      time.Duration
	ProbeTimeout time.Duration
	// AcceptableExitCodes overrides ImageMagickExitCodes when non-empty.
	AcceptableExitCodes string

	Options
}

// NewImageMagick builds the ImageMagick tool. Exe, Dyn and Root must all be
// set; an empty one fails with a *command.ConfigError naming the field.
func NewImageMagick(opts ImageMagickOptions) (*Tool, error) {
	exe := strings.TrimSpace(opts.Exe)
	dyn := strings.TrimSpace(opts.Dyn)
	root := strings.TrimSpace(opts.Root)
	for _, f := range []struct{ field, value string }{{"exe", exe}, {"dyn", dyn}, {"root", root}} {
		if f.value == "" {
			return nil, &command.ConfigError{Field: ImageMagickName + "." + f.field, Reason: "must not be empty"}
		}
	}

	codeList := opts.AcceptableExitCodes
	if strings.TrimSpace(codeList) == "" {
		codeList = ImageMagickExitCodes
	}
	codes, err := command.ParseExitCodes(codeList)
	if err != nil {
		return nil, &command.ConfigError{Field: ImageMagickName + ".acceptable_exit_codes", Reason: err.Error()}
	}

	env := map[string]string{
		"MAGICK_HOME":                root,
		"DYLD_FALLBACK_LIBRARY_PATH": dyn,
		"LD_LIBRARY_PATH":            dyn,
	}

	tmpl, err := command.NewTemplate(command.TemplateSpec{
		Name:                ImageMagickName,
		Match:               ".*",
		Args:                []string{exe, "${source}", "SPLIT:${options}", "-strip", "-quiet", "${target}"},
		Env:                 env,
		Defaults:            map[string]string{"options": ""},
		AcceptableExitCodes: codes,
	})
	if err != nil {
		return nil, err
	}

	return assemble(ImageMagickName, []*command.Template{tmpl}, []string{exe, "-version"}, env, opts.Timeout, opts.ProbeTimeout, opts.Options)
}
