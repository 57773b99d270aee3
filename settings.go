// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package rhi

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Settings are driver-wide toggles adjustable at runtime.
type Settings struct {
	VSync bool `toml:"vsync"`
	// FPSLimit caps Present when VSync is off. Zero means unlimited.
	FPSLimit int `toml:"fps_limit"`
	// Anisotropy is the level used by anisotropic samplers that do not set one.
	Anisotropy int `toml:"anisotropy"`
	// ShaderRecompileFilter restricts RecompileShaders to shader paths
	// containing it, compared case-insensitively. Empty matches all.
	ShaderRecompileFilter string `toml:"shader_recompile_filter"`
}

// DefaultSettings returns VSync on, no FPS limit and 4x anisotropy.
func DefaultSettings() Settings {
	return Settings{
		VSync:      true,
		Anisotropy: 4,
	}
}

// Sanitized clamps out-of-range values.
func (s Settings) Sanitized() Settings {
	if s.FPSLimit < 0 {
		s.FPSLimit = 0
	}
	switch {
	case s.Anisotropy < 1:
		s.Anisotropy = 1
	case s.Anisotropy > 16:
		s.Anisotropy = 16
	}
	return s
}

// DecodeSettings reads TOML settings. Keys absent from r keep their defaults.
func DecodeSettings(r io.Reader) (Settings, error) {
	s := DefaultSettings()
	dec := toml.NewDecoder(r).DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return DefaultSettings(), fmt.Errorf("rhi: decode settings: %w", err)
	}
	return s.Sanitized(), nil
}

// LoadSettings reads settings from a TOML file.
func LoadSettings(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultSettings(), fmt.Errorf("rhi: load settings: %w", err)
	}
	return DecodeSettings(bytes.NewReader(data))
}

// Encode writes s as TOML.
func (s Settings) Encode(w io.Writer) error {
	if err := toml.NewEncoder(w).Encode(s); err != nil {
		return fmt.Errorf("rhi: encode settings: %w", err)
	}
	return nil
}

// SaveSettings writes s to a TOML file.
func SaveSettings(path string, s Settings) error {
	var buf bytes.Buffer
	if err := s.Encode(&buf); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644) //nolint:gosec // settings are not secret
}
