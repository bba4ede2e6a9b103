package pdfmark

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config is the file form of a watermark run, as read by LoadConfig.
// Zero fields mean "not set" so that command-line flags can fill them in.
type Config struct {
	Text         string   `json:"text"`
	FontPath     string   `json:"font_path"`
	FontName     string   `json:"font_name"`
	FontSize     float64  `json:"font_size"`
	Opacity      *float64 `json:"opacity"` // pointer: 0 is a valid opacity
	Angle        *float64 `json:"angle"`
	Color        string   `json:"color"` // "R,G,B"
	FontFallback bool     `json:"font_fallback"`

	Overlay     string `json:"overlay"`     // prebuilt overlay PDF
	Concurrency int    `json:"concurrency"` // batch workers
	Prefix      string `json:"prefix"`      // output file name prefix
	Collision   string `json:"collision"`   // overwrite, error, uniquify
	Mode        string `json:"mode"`        // graft, flatten
	Fit         string `json:"fit"`         // native, scale
	Verify      bool   `json:"verify"`
}

// LoadConfig reads a JSON config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewError(ErrIO, "load config", path, err)
	}
	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, NewError(ErrInvalidSpec, "load config", path, fmt.Errorf("decoding json: %w", err))
	}
	return &c, nil
}

// Spec converts the text parameters of the config into a Spec. Font data is
// not loaded here: FontPath is resolved by the caller's font provider.
func (c *Config) Spec() (Spec, error) {
	s := DefaultSpec(c.Text)
	if c.FontName != "" {
		s.Font.Name = c.FontName
	}
	if c.FontSize != 0 {
		s.FontSize = c.FontSize
	}
	if c.Opacity != nil {
		s.Opacity = *c.Opacity
	}
	if c.Angle != nil {
		s.Angle = *c.Angle
	}
	if c.Color != "" {
		col, err := ParseColor(c.Color)
		if err != nil {
			return Spec{}, err
		}
		s.Color = col
	}
	return s, nil
}
