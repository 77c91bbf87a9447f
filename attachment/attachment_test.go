////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package attachment

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	jww.SetStdoutThreshold(jww.LevelTrace)
	os.Exit(m.Run())
}

// Tests that an upload can be read back through its URL path and deleted.
func TestDir_UploadDelete(t *testing.T) {
	root := t.TempDir()
	d, err := NewDir(root, "https://files.example.com/a/")
	require.NoError(t, err)

	url, err := d.Upload(context.Background(), []byte("hello"), "image/png")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(url, "https://files.example.com/a/"))
	require.True(t, strings.HasSuffix(url, ".png"))

	path := d.PathOf(url)
	data, err := os.ReadFile(filepath.Join(root, path))
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), data)

	require.NoError(t, d.Delete(context.Background(), []string{path}))
	_, err = os.Stat(filepath.Join(root, path))
	require.True(t, os.IsNotExist(err))

	// Deleting again is fine.
	require.NoError(t, d.Delete(context.Background(), []string{path}))
}

// Error path: Upload honours a cancelled context.
func TestDir_Upload_Cancelled(t *testing.T) {
	d, err := NewDir(t.TempDir(), "/files")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.Upload(ctx, []byte("x"), "text/plain")
	require.Error(t, err)
}

func encodePNG(t *testing.T, w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, x%h, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// Tests that large images are scaled to fit MaxDimension keeping the aspect
// ratio and small ones pass through.
func TestCompressor_Compress(t *testing.T) {
	p := GetDefaultCompressorParams()
	p.MaxDimension = 100
	c := NewCompressor(p)

	big := encodePNG(t, 400, 200)
	out, err := c.Compress(big, ContentTypePNG)
	require.NoError(t, err)
	img, _, err := image.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	require.Equal(t, 100, img.Bounds().Dx())
	require.Equal(t, 50, img.Bounds().Dy())

	small := encodePNG(t, 50, 50)
	out, err = c.Compress(small, ContentTypePNG)
	require.NoError(t, err)
	require.Equal(t, small, out)

	doc := []byte("%PDF-1.4")
	out, err = c.Compress(doc, "application/pdf")
	require.NoError(t, err)
	require.Equal(t, doc, out)
}

// Error path: undecodable images and oversized attachments are refused.
func TestCompressor_Errors(t *testing.T) {
	p := GetDefaultCompressorParams()
	p.MaxBytes = 4
	c := NewCompressor(p)

	_, err := c.Compress([]byte("not an image"), ContentTypeJPEG)
	require.Error(t, err)

	_, err = c.Compress([]byte("12345"), "text/plain")
	require.True(t, errors.Is(err, ErrTooLarge))
}
