// Package ocr extracts text regions from page images.
package ocr

import (
	"context"
	"fmt"
	"slices"
)

// BoundingBox is in pixel units; all fields are >= 0.
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Result is one recognized block of text. Confidence is in [0,1].
type Result struct {
	Text        string      `json:"text"`
	Confidence  float64     `json:"confidence"`
	BoundingBox BoundingBox `json:"boundingBox"`
}

type Options struct {
	Language string
}

// Engine recognizes text in an encoded image buffer.
type Engine interface {
	Recognize(ctx context.Context, image []byte, opts Options) ([]Result, error)
}

// Service routes recognition requests to a named engine.
type Service struct {
	engines         map[string]Engine
	defaultLanguage string
}

func NewService(defaultLanguage string) *Service {
	return &Service{engines: make(map[string]Engine), defaultLanguage: defaultLanguage}
}

// Register adds an engine under name, replacing any previous registration.
func (s *Service) Register(name string, e Engine) {
	s.engines[name] = e
}

func (s *Service) Engines() []string {
	names := make([]string, 0, len(s.engines))
	for name := range s.engines {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Perform runs engineName over image. An empty opts.Language uses the service default.
func (s *Service) Perform(ctx context.Context, image []byte, engineName string, opts Options) ([]Result, error) {
	e, ok := s.engines[engineName]
	if !ok {
		return nil, fmt.Errorf("unknown ocr engine %q", engineName)
	}
	if len(image) == 0 {
		return nil, fmt.Errorf("ocr: empty image buffer")
	}
	if opts.Language == "" {
		opts.Language = s.defaultLanguage
	}
	results, err := e.Recognize(ctx, image, opts)
	if err != nil {
		return nil, fmt.Errorf("ocr %s: %w", engineName, err)
	}
	return results, nil
}
