package media

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestThumbnailDownscalesImages(t *testing.T) {
	data := testPNG(t, 800, 600)

	thumb := Thumbnail(data)
	require.NotNil(t, thumb)

	img, format, err := image.Decode(bytes.NewReader(thumb))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.LessOrEqual(t, img.Bounds().Dx(), 300)
	assert.LessOrEqual(t, img.Bounds().Dy(), 300)
}

func TestThumbnailRejectsGarbage(t *testing.T) {
	assert.Nil(t, Thumbnail([]byte("definitely not an image")))
	assert.Nil(t, Thumbnail(nil))
}

func TestBase64StorageRoundTrip(t *testing.T) {
	s := NewBase64Storage()

	stored, err := s.Save(context.Background(), "company-1", "5511999990000@c.us", "WA-1", []byte("hello"), "text/plain", "note.txt", true)
	require.NoError(t, err)
	assert.Equal(t, "base64", stored.Provider)
	assert.True(t, strings.HasPrefix(stored.Key, "data:text/plain"))
	assert.Contains(t, stored.Key, "base64,")
}

func TestS3ObjectKeyLayout(t *testing.T) {
	m := NewS3Storage()

	key := m.objectKey("company-1", "5511999990000@c.us", "WA-1", "image/jpeg", true)
	assert.True(t, strings.HasPrefix(key, "companies/company-1/inbox/5511999990000_c.us/"))
	assert.Contains(t, key, "/images/")
	assert.True(t, strings.HasSuffix(key, "WA-1.jpg"))

	key = m.objectKey("company-1", "5511999990000@c.us", "WA-2", "application/pdf", false)
	assert.Contains(t, key, "/outbox/")
	assert.Contains(t, key, "/documents/")
	assert.True(t, strings.HasSuffix(key, "WA-2.pdf"))
}
