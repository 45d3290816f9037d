// Package render composes translated text onto page images.
package render

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mangaflow/mangaflow/internal/execrun"
)

type Box struct {
	X, Y, Width, Height int
}

// Overlay is one block of text painted over its source region.
type Overlay struct {
	Text string
	Box  Box
}

// Renderer is the pixel composition collaborator. It returns an encoded PNG.
type Renderer interface {
	Render(ctx context.Context, image []byte, overlays []Overlay) ([]byte, error)
}

type MagickConfig struct {
	Path string // binary name or absolute path; if empty -> "magick"
	Font string // optional font name or file; ImageMagick's default otherwise
}

// Magick blanks each region with a white rectangle and annotates the
// translated text on top using ImageMagick.
type Magick struct {
	cfg    MagickConfig
	runner execrun.Runner
}

func NewMagick(cfg MagickConfig, runner execrun.Runner) *Magick {
	if cfg.Path == "" {
		cfg.Path = "magick"
	}
	if runner == nil {
		runner = execrun.Exec{}
	}
	return &Magick{cfg: cfg, runner: runner}
}

func (m *Magick) Render(ctx context.Context, image []byte, overlays []Overlay) ([]byte, error) {
	dir, err := os.MkdirTemp("", "mangaflow-render-*")
	if err != nil {
		return nil, fmt.Errorf("create render dir: %w", err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "in")
	out := filepath.Join(dir, "out.png")
	if err := os.WriteFile(in, image, 0o600); err != nil {
		return nil, fmt.Errorf("write source image: %w", err)
	}

	_, errb, err := m.runner.Run(ctx, m.cfg.Path, m.args(in, "png:"+out, overlays)...)
	if err != nil {
		return nil, fmt.Errorf("magick: %w: %s", err, execrun.Truncate(strings.TrimSpace(string(errb)), 512))
	}
	data, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("read rendered image: %w", err)
	}
	return data, nil
}

func (m *Magick) args(in, out string, overlays []Overlay) []string {
	args := []string{in, "-gravity", "NorthWest"}
	if m.cfg.Font != "" {
		args = append(args, "-font", m.cfg.Font)
	}
	for _, o := range overlays {
		b := o.Box
		if b.Width <= 0 || b.Height <= 0 {
			continue
		}
		args = append(args,
			"-fill", "white",
			"-draw", fmt.Sprintf("rectangle %d,%d %d,%d", b.X, b.Y, b.X+b.Width-1, b.Y+b.Height-1),
			"-fill", "black",
			"-pointsize", strconv.Itoa(pointSize(o)),
			"-annotate", fmt.Sprintf("+%d+%d", b.X, b.Y),
			escapeText(o.Text),
		)
	}
	return append(args, out)
}

// pointSize fits the text's lines into the box height, within [10, 48].
func pointSize(o Overlay) int {
	lines := strings.Count(o.Text, "\n") + 1
	size := o.Box.Height * 4 / (5 * lines)
	return min(max(size, 10), 48)
}

// escapeText keeps annotate from treating the text as a file reference
// ("@path") or a percent escape.
func escapeText(s string) string {
	s = strings.ReplaceAll(s, "%", "%%")
	if strings.HasPrefix(s, "@") {
		s = `\` + s
	}
	return s
}
