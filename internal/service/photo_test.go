package service

import (
	"bytes"
	"image/color"
	"testing"

	"github.com/DukeRupert/renova/internal/domain"
	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeTestImage(t *testing.T, w, h int, format imaging.Format) []byte {
	t.Helper()
	var buf bytes.Buffer
	img := imaging.New(w, h, color.NRGBA{R: 90, G: 140, B: 200, A: 255})
	require.NoError(t, imaging.Encode(&buf, img, format))
	return buf.Bytes()
}

func TestImagingProcessor_Prepare(t *testing.T) {
	p := NewImagingProcessor(discardLogger())

	tests := []struct {
		name      string
		width     int
		height    int
		format    imaging.Format
		maxDim    int
		wantW     int
		wantH     int
		unchanged bool
	}{
		{"landscape downscaled", 4000, 3000, imaging.JPEG, 1568, 1568, 1176, false},
		{"portrait downscaled", 1000, 2000, imaging.PNG, 500, 250, 500, false},
		{"within bounds", 800, 600, imaging.JPEG, 1568, 800, 600, true},
		{"default max dimension", 2000, 1000, imaging.PNG, 0, 1568, 784, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := encodeTestImage(t, tt.width, tt.height, tt.format)
			in := domain.Photo{Filename: "room", ContentType: "image/png", Data: data}

			out, err := p.Prepare(in, tt.maxDim)
			require.NoError(t, err)

			if tt.unchanged {
				assert.Equal(t, in, out)
			} else {
				assert.Equal(t, "image/jpeg", out.ContentType)
				assert.Equal(t, "room", out.Filename)
			}

			w, h, err := p.Dimensions(out.Data)
			require.NoError(t, err)
			assert.Equal(t, tt.wantW, w)
			assert.Equal(t, tt.wantH, h)
		})
	}
}

func TestImagingProcessor_PrepareUndecodable(t *testing.T) {
	p := NewImagingProcessor(discardLogger())
	in := domain.Photo{Filename: "x.webp", ContentType: "image/webp", Data: []byte("RIFF....WEBPVP8 ")}

	out, err := p.Prepare(in, 100)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestImagingProcessor_Dimensions(t *testing.T) {
	p := NewImagingProcessor(discardLogger())

	w, h, err := p.Dimensions(encodeTestImage(t, 64, 48, imaging.PNG))
	require.NoError(t, err)
	assert.Equal(t, 64, w)
	assert.Equal(t, 48, h)

	_, _, err = p.Dimensions([]byte("not an image"))
	assert.Error(t, err)
}
