package main

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// resizePreset bounds the longest image dimension and sets encode quality.
type resizePreset struct {
	maxWidth int
	quality  int
}

var (
	presetMedium    = resizePreset{maxWidth: 800, quality: 85}
	presetThumbnail = resizePreset{maxWidth: 200, quality: 80}
)

type imageFormat string

const (
	formatJPEG imageFormat = "jpeg"
	formatPNG  imageFormat = "png"
	formatWebP imageFormat = "webp"
)

// transcodeImage decodes, orients, downscales, and re-encodes one image.
// Embedded EXIF orientation is applied before resizing, aspect ratio is
// preserved, and images already within the preset bound are never enlarged.
func transcodeImage(data []byte, preset resizePreset, format imageFormat) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("image decode failed: %w", err)
	}

	bounds := img.Bounds()
	if bounds.Dx() > preset.maxWidth || bounds.Dy() > preset.maxWidth {
		img = imaging.Fit(img, preset.maxWidth, preset.maxWidth, imaging.Lanczos)
	}

	var buf bytes.Buffer
	switch format {
	case formatPNG:
		err = imaging.Encode(&buf, img, imaging.PNG)
	default:
		// jpeg is the default output; webp has no encoder in imaging,
		// so a webp request also lands here.
		err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(preset.quality))
	}
	if err != nil {
		return nil, fmt.Errorf("image encode failed: %w", err)
	}
	return buf.Bytes(), nil
}

// generateVariants produces both derived renditions; the two presets are
// always computed together.
func generateVariants(data []byte, format imageFormat) (medium, thumbnail []byte, err error) {
	medium, err = transcodeImage(data, presetMedium, format)
	if err != nil {
		return nil, nil, err
	}
	thumbnail, err = transcodeImage(data, presetThumbnail, format)
	if err != nil {
		return nil, nil, err
	}
	return medium, thumbnail, nil
}

func formatForFilename(name string) imageFormat {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png":
		return formatPNG
	case ".webp":
		return formatWebP
	default:
		return formatJPEG
	}
}

// fileExtension returns the lowercase extension without the dot, defaulting
// to jpg.
func fileExtension(name string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if ext == "" {
		return "jpg"
	}
	return ext
}
