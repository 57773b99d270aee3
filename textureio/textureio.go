// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package textureio decodes image files into texture data.
//
// PNG, JPEG and GIF are decoded by the standard library; BMP, TIFF and WebP
// by golang.org/x/image. Every image is converted to tightly packed RGBA8
// (non-premultiplied) rows. Mip levels are produced with an approximate
// bilinear filter from golang.org/x/image/draw.
//
// When a file cannot be read or decoded the caller receives a *DecodeError
// and is expected to substitute one of the Placeholder images.
package textureio

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	stddraw "image/draw"
	_ "image/gif" // register GIF
	_ "image/jpeg"
	_ "image/png"
	"io"
	"io/fs"
	"math/bits"

	"github.com/gogpu/gputypes"
	_ "golang.org/x/image/bmp" // register BMP
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/gogpu/rhi"
)

// ErrEmptyImage is returned for images with a zero dimension.
var ErrEmptyImage = errors.New("textureio: empty image")

// DecodeError reports a file that could not be turned into texture data.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Path == "" {
		return "textureio: " + e.Err.Error()
	}
	return fmt.Sprintf("textureio: %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Image is RGBA8 texture data with an optional mip chain.
type Image struct {
	Width  uint32
	Height uint32
	// Format names the decoder that produced the image ("png", "webp", ...),
	// or "placeholder".
	Format string
	// Levels[0] is the full-size image. Each level is tightly packed with
	// 4 bytes per pixel.
	Levels [][]byte
}

// Desc returns a shader-resource texture description matching img.
func (img *Image) Desc(label string) rhi.TextureDesc {
	return rhi.TextureDesc{
		Label:     label,
		Width:     img.Width,
		Height:    img.Height,
		MipLevels: uint32(len(img.Levels)),
		Format:    gputypes.TextureFormatRGBA8Unorm,
		BindFlags: rhi.BindShaderResource,
	}
}

// LevelSize returns the dimensions of mip level i.
func (img *Image) LevelSize(i int) (w, h uint32) {
	return max(1, img.Width>>i), max(1, img.Height>>i)
}

// Decode reads an image in any registered format.
func Decode(r io.Reader) (*Image, error) {
	src, format, err := image.Decode(r)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	img, err := fromImage(src)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	img.Format = format
	return img, nil
}

// Load reads and decodes path from fsys.
func Load(fsys fs.FS, path string) (*Image, error) {
	data, err := fs.ReadFile(fsys, path)
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}
	img, err := Decode(bytes.NewReader(data))
	if err != nil {
		var de *DecodeError
		if errors.As(err, &de) {
			de.Path = path
		}
		return nil, err
	}
	return img, nil
}

func fromImage(src image.Image) (*Image, error) {
	b := src.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, ErrEmptyImage
	}
	w, h := b.Dx(), b.Dy()
	var pix []byte
	if n, ok := src.(*image.NRGBA); ok && n.Stride == w*4 && n.Rect.Min == (image.Point{}) {
		pix = bytes.Clone(n.Pix)
	} else {
		dst := image.NewNRGBA(image.Rect(0, 0, w, h))
		stddraw.Draw(dst, dst.Bounds(), src, b.Min, stddraw.Src)
		pix = dst.Pix
	}
	return &Image{
		Width:  uint32(w),
		Height: uint32(h),
		Levels: [][]byte{pix},
	}, nil
}

// MipCount returns the length of a full mip chain for a w x h image.
func MipCount(w, h uint32) int {
	return bits.Len32(max(w, h, 1))
}

// GenerateMips replaces the mip chain of img with levels levels built from
// level 0. levels <= 0 or beyond the full chain builds the full chain.
func GenerateMips(img *Image, levels int) {
	full := MipCount(img.Width, img.Height)
	if levels <= 0 || levels > full {
		levels = full
	}
	chain := make([][]byte, 1, levels)
	chain[0] = img.Levels[0]

	prev := &image.NRGBA{
		Pix:    img.Levels[0],
		Stride: int(img.Width) * 4,
		Rect:   image.Rect(0, 0, int(img.Width), int(img.Height)),
	}
	for i := 1; i < levels; i++ {
		w, h := img.LevelSize(i)
		dst := image.NewNRGBA(image.Rect(0, 0, int(w), int(h)))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), prev, prev.Bounds(), draw.Src, nil)
		chain = append(chain, dst.Pix)
		prev = dst
	}
	img.Levels = chain
}

const placeholderSize = 8

// Placeholder returns the substitute image for kind.
func Placeholder(kind rhi.Placeholder) *Image {
	pix := make([]byte, placeholderSize*placeholderSize*4)
	for y := range placeholderSize {
		for x := range placeholderSize {
			p := pix[(y*placeholderSize+x)*4:]
			switch kind {
			case rhi.PlaceholderFlatNormal:
				p[0], p[1], p[2], p[3] = 128, 128, 255, 255
			default:
				if (x/2+y/2)%2 == 0 {
					p[0], p[1], p[2], p[3] = 255, 0, 255, 255
				} else {
					p[0], p[1], p[2], p[3] = 0, 0, 0, 255
				}
			}
		}
	}
	return &Image{
		Width:  placeholderSize,
		Height: placeholderSize,
		Format: "placeholder",
		Levels: [][]byte{pix},
	}
}
