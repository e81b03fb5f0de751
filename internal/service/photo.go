// Package service contains business logic for the Renova application.
//
// This file implements photo preparation for vision model calls and
// dimension probing for generated images.
package service

import (
	"bytes"
	"fmt"
	"image"
	"log/slog"

	"github.com/DukeRupert/renova/internal/domain"
	"github.com/disintegration/imaging"
)

const (
	// DefaultPhotoMaxDimension is the longest edge sent to vision models.
	DefaultPhotoMaxDimension = 1568

	// PhotoJPEGQuality is the JPEG quality used for re-encoded photos.
	PhotoJPEGQuality = 85
)

// =============================================================================
// Interface Definition
// =============================================================================

// PhotoProcessor prepares images for and from AI calls.
type PhotoProcessor interface {
	// Prepare downscales a photo so its longest edge is at most maxDim and
	// re-encodes it as JPEG. Photos already within bounds, or in a format the
	// decoder does not support, are returned unchanged.
	Prepare(photo domain.Photo, maxDim int) (domain.Photo, error)

	// Dimensions returns the width and height of encoded image data.
	Dimensions(data []byte) (int, int, error)
}

// =============================================================================
// Implementation
// =============================================================================

// imagingProcessor implements PhotoProcessor using the imaging library.
type imagingProcessor struct {
	logger *slog.Logger
}

// NewImagingProcessor creates a new photo processor using the imaging library.
func NewImagingProcessor(logger *slog.Logger) PhotoProcessor {
	return &imagingProcessor{logger: logger}
}

// Prepare fits the photo within maxDim x maxDim preserving aspect ratio.
func (p *imagingProcessor) Prepare(photo domain.Photo, maxDim int) (domain.Photo, error) {
	if maxDim <= 0 {
		maxDim = DefaultPhotoMaxDimension
	}

	img, err := imaging.Decode(bytes.NewReader(photo.Data), imaging.AutoOrientation(true))
	if err != nil {
		// WebP and other formats without a registered decoder go through as-is.
		p.logger.Debug("photo not decodable, sending original",
			"filename", photo.Filename,
			"content_type", photo.ContentType,
			"error", err,
		)
		return photo, nil
	}

	bounds := img.Bounds()
	if bounds.Dx() <= maxDim && bounds.Dy() <= maxDim {
		return photo, nil
	}

	resized := imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, imaging.JPEG, imaging.JPEGQuality(PhotoJPEGQuality)); err != nil {
		return domain.Photo{}, fmt.Errorf("failed to encode photo: %w", err)
	}

	p.logger.Debug("photo downscaled",
		"filename", photo.Filename,
		"original_width", bounds.Dx(),
		"original_height", bounds.Dy(),
		"bytes_before", len(photo.Data),
		"bytes_after", buf.Len(),
	)

	return domain.Photo{
		Filename:    photo.Filename,
		ContentType: "image/jpeg",
		Data:        buf.Bytes(),
	}, nil
}

// Dimensions decodes only the image header.
func (p *imagingProcessor) Dimensions(data []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read image dimensions: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}
