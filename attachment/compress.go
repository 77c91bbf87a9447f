////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package attachment

import (
	"bytes"
	"image"
	"image/jpeg"
	"image/png"

	"github.com/dustin/go-humanize"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
)

// Image content types the Compressor re-encodes.
const (
	ContentTypeJPEG = "image/jpeg"
	ContentTypePNG  = "image/png"
)

// ErrTooLarge is returned when an attachment exceeds MaxBytes after
// compression.
var ErrTooLarge = errors.New("attachment is too large")

// CompressorParams configures a Compressor.
type CompressorParams struct {
	// MaxDimension bounds the width and height of images.
	MaxDimension uint

	// JPEGQuality is used when re-encoding JPEG images.
	JPEGQuality int

	// MaxBytes bounds the size of any attachment after compression.
	MaxBytes int
}

// GetDefaultCompressorParams returns the default compressor parameters.
func GetDefaultCompressorParams() CompressorParams {
	return CompressorParams{
		MaxDimension: 1600,
		JPEGQuality:  80,
		MaxBytes:     10 << 20,
	}
}

// Compressor shrinks images before upload. Other content types pass through
// unchanged.
type Compressor struct {
	params CompressorParams
}

// NewCompressor builds a Compressor.
func NewCompressor(p CompressorParams) *Compressor {
	return &Compressor{params: p}
}

// Compress returns the bytes to upload for the attachment.
func (c *Compressor) Compress(data []byte, contentType string) ([]byte, error) {
	out := data
	if contentType == ContentTypeJPEG || contentType == ContentTypePNG {
		var err error
		out, err = c.compressImage(data, contentType)
		if err != nil {
			return nil, err
		}
	}

	if c.params.MaxBytes > 0 && len(out) > c.params.MaxBytes {
		return nil, errors.Wrapf(ErrTooLarge, "%s exceeds the limit of %s",
			humanize.Bytes(uint64(len(out))),
			humanize.Bytes(uint64(c.params.MaxBytes)))
	}
	return out, nil
}

func (c *Compressor) compressImage(data []byte, contentType string) (
	[]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s", contentType)
	}

	bounds := img.Bounds()
	limit := int(c.params.MaxDimension)
	if bounds.Dx() <= limit && bounds.Dy() <= limit {
		return data, nil
	}
	resized := resize.Thumbnail(c.params.MaxDimension, c.params.MaxDimension,
		img, resize.Lanczos3)

	var buf bytes.Buffer
	if contentType == ContentTypeJPEG {
		err = jpeg.Encode(&buf, resized, &jpeg.Options{
			Quality: c.params.JPEGQuality})
	} else {
		err = png.Encode(&buf, resized)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to encode %s", contentType)
	}

	jww.DEBUG.Printf("[ATTACHMENT] Resized %dx%d image to %dx%d (%s -> %s)",
		bounds.Dx(), bounds.Dy(), resized.Bounds().Dx(), resized.Bounds().Dy(),
		humanize.Bytes(uint64(len(data))), humanize.Bytes(uint64(buf.Len())))
	return buf.Bytes(), nil
}
