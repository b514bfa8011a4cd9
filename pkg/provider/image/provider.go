// Package image defines the Provider interface for text-to-image backends.
//
// Implementors must be safe for concurrent use.
package image

import (
	"context"
	"errors"
	"strings"
)

// ErrNoImage is returned when the backend answered without an image part.
var ErrNoImage = errors.New("image: no image in response")

// Image is a generated picture as encoded bytes.
type Image struct {
	// Data is the encoded image (PNG or JPEG).
	Data []byte

	// MIMEType is the encoding of Data, e.g. "image/png".
	MIMEType string

	// Text is any commentary the model returned alongside the image.
	Text string
}

// Ext returns a file extension for the image encoding, including the dot.
func (img *Image) Ext() string {
	switch strings.ToLower(img.MIMEType) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}

// Provider generates a single image from a prompt.
type Provider interface {
	// Generate produces one image for prompt. It returns [ErrNoImage] when the
	// model answered with text only.
	Generate(ctx context.Context, prompt string) (*Image, error)
}
