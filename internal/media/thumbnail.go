package media

import (
	"bytes"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"
)

const thumbnailWidth = 300

// Thumbnail produces a JPEG preview bounded to thumbnailWidth for image
// attachments. Returns nil for undecodable input; callers treat a missing
// thumbnail as non-fatal.
func Thumbnail(data []byte) []byte {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil
	}

	thumb := resize.Thumbnail(thumbnailWidth, thumbnailWidth, img, resize.Lanczos3)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: 75}); err != nil {
		return nil
	}
	return buf.Bytes()
}
