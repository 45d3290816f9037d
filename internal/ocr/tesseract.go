package ocr

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/mangaflow/mangaflow/internal/execrun"
)

type TesseractConfig struct {
	Path        string // binary name or absolute path; if empty -> "tesseract"
	PSM         int    // page segmentation mode; 0 leaves tesseract's default
	TessdataDir string
}

// Tesseract runs the tesseract CLI in TSV mode and groups words into
// paragraph-level regions.
type Tesseract struct {
	cfg    TesseractConfig
	runner execrun.Runner
}

func NewTesseract(cfg TesseractConfig, runner execrun.Runner) *Tesseract {
	if cfg.Path == "" {
		cfg.Path = "tesseract"
	}
	if runner == nil {
		runner = execrun.Exec{}
	}
	return &Tesseract{cfg: cfg, runner: runner}
}

func (t *Tesseract) Recognize(ctx context.Context, image []byte, opts Options) ([]Result, error) {
	f, err := os.CreateTemp("", "mangaflow-ocr-*")
	if err != nil {
		return nil, fmt.Errorf("create temp image: %w", err)
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(image); err != nil {
		f.Close()
		return nil, fmt.Errorf("write temp image: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close temp image: %w", err)
	}

	args := []string{f.Name(), "stdout"}
	if opts.Language != "" {
		args = append(args, "-l", opts.Language)
	}
	if t.cfg.PSM > 0 {
		args = append(args, "--psm", strconv.Itoa(t.cfg.PSM))
	}
	if t.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", t.cfg.TessdataDir)
	}
	args = append(args, "tsv")

	out, errb, err := t.runner.Run(ctx, t.cfg.Path, args...)
	if err != nil {
		return nil, fmt.Errorf("tesseract: %w: %s", err, execrun.Truncate(strings.TrimSpace(string(errb)), 512))
	}
	return parseTSV(string(out), opts.Language)
}

type paragraphKey struct {
	page, block, par int
}

type paragraph struct {
	lines    [][]string
	lastLine int
	confSum  float64
	confN    int
	x0, y0   int
	x1, y1   int
}

// parseTSV reads tesseract TSV output. Columns: level page_num block_num
// par_num line_num word_num left top width height conf text. Only word rows
// (level 5) carry text.
func parseTSV(out, language string) ([]Result, error) {
	var order []paragraphKey
	paras := make(map[paragraphKey]*paragraph)

	for i, ln := range strings.Split(out, "\n") {
		ln = strings.TrimRight(ln, "\r")
		if i == 0 || ln == "" {
			continue
		}
		cols := strings.Split(ln, "\t")
		if len(cols) < 12 {
			continue
		}
		if cols[0] != "5" {
			continue
		}
		text := strings.TrimSpace(strings.Join(cols[11:], "\t"))
		if text == "" {
			continue
		}

		nums := make([]int, 10)
		for c := range 10 {
			n, err := strconv.Atoi(cols[c])
			if err != nil {
				return nil, fmt.Errorf("tesseract tsv line %d column %d: %w", i+1, c+1, err)
			}
			nums[c] = n
		}
		conf, err := strconv.ParseFloat(cols[10], 64)
		if err != nil {
			return nil, fmt.Errorf("tesseract tsv line %d conf: %w", i+1, err)
		}

		key := paragraphKey{page: nums[1], block: nums[2], par: nums[3]}
		line := nums[4]
		left, top := max(nums[6], 0), max(nums[7], 0)
		right, bottom := left+max(nums[8], 0), top+max(nums[9], 0)

		p, ok := paras[key]
		if !ok {
			p = &paragraph{lastLine: -1, x0: left, y0: top, x1: right, y1: bottom}
			paras[key] = p
			order = append(order, key)
		}
		if line != p.lastLine {
			p.lines = append(p.lines, nil)
			p.lastLine = line
		}
		p.lines[len(p.lines)-1] = append(p.lines[len(p.lines)-1], text)
		if conf >= 0 {
			p.confSum += conf
			p.confN++
		}
		p.x0, p.y0 = min(p.x0, left), min(p.y0, top)
		p.x1, p.y1 = max(p.x1, right), max(p.y1, bottom)
	}

	sep := " "
	if unspacedScript(language) {
		sep = ""
	}
	results := make([]Result, 0, len(order))
	for _, key := range order {
		p := paras[key]
		lines := make([]string, len(p.lines))
		for i, words := range p.lines {
			lines[i] = strings.Join(words, sep)
		}
		var conf float64
		if p.confN > 0 {
			conf = min(max(p.confSum/float64(p.confN)/100, 0), 1)
		}
		results = append(results, Result{
			Text:       strings.Join(lines, sep),
			Confidence: conf,
			BoundingBox: BoundingBox{
				X:      p.x0,
				Y:      p.y0,
				Width:  p.x1 - p.x0,
				Height: p.y1 - p.y0,
			},
		})
	}
	return results, nil
}

// unspacedScript reports whether the tesseract language writes words without
// separating spaces.
func unspacedScript(language string) bool {
	for _, lang := range strings.Split(language, "+") {
		if strings.HasPrefix(lang, "jpn") || strings.HasPrefix(lang, "chi") || strings.HasPrefix(lang, "tha") {
			return true
		}
	}
	return false
}
