package api

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kalambet/parley/internal/questions"
)

const (
	maxImageCount = 12
	maxImageBytes = 5 << 20 // per image, after base64 decoding
)

// Allow-listed upload media types and the extension inferred when the
// original filename carries none.
var imageExtensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

type imagePayload struct {
	QuestionID string `json:"questionId"`
	Name       string `json:"name,omitempty"`
	MediaType  string `json:"type"`
	Data       string `json:"data"`
}

type decodedImage struct {
	questionID string
	filename   string
	data       []byte
}

// validateImages decodes and checks every upload without touching disk, so
// a rejected submit leaves no partial files behind. The returned field names
// the offending question id when one is known.
func validateImages(imgs []imagePayload, set *questions.Set) ([]decodedImage, string, error) {
	if len(imgs) > maxImageCount {
		return nil, "", fmt.Errorf("too many images: %d exceeds the maximum of %d", len(imgs), maxImageCount)
	}

	decoded := make([]decodedImage, 0, len(imgs))
	for n, img := range imgs {
		if img.QuestionID == "" {
			return nil, "", fmt.Errorf("image %d is missing questionId", n)
		}
		if set.ByID(img.QuestionID) == nil {
			return nil, img.QuestionID, fmt.Errorf("image %d references unknown question id %q", n, img.QuestionID)
		}
		if _, ok := imageExtensions[img.MediaType]; !ok {
			return nil, img.QuestionID, fmt.Errorf("image %d has disallowed media type %q", n, img.MediaType)
		}
		data, err := base64.StdEncoding.DecodeString(img.Data)
		if err != nil {
			return nil, img.QuestionID, fmt.Errorf("image %d is not valid base64", n)
		}
		if len(data) > maxImageBytes {
			return nil, img.QuestionID, fmt.Errorf("image %d is %d bytes, exceeding the %d byte limit", n, len(data), maxImageBytes)
		}
		decoded = append(decoded, decodedImage{
			questionID: img.QuestionID,
			filename:   sanitizeFilename(img.Name, img.MediaType, n),
			data:       data,
		})
	}
	return decoded, "", nil
}

// sanitizeFilename strips directory components and unsafe characters from
// the browser-supplied name and infers an extension from the declared media
// type when the name carries none.
func sanitizeFilename(name, mediaType string, index int) string {
	base := filepath.Base(strings.TrimSpace(name))
	if base == "." || base == string(filepath.Separator) {
		base = ""
	}

	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	clean := strings.Trim(b.String(), ".")
	if clean == "" {
		clean = fmt.Sprintf("image-%02d", index+1)
	}
	if filepath.Ext(clean) == "" {
		clean += imageExtensions[mediaType]
	}
	return clean
}

// writeImages persists decoded uploads under the per-session directory and
// returns the stored path for each, de-duplicating name collisions with a
// numeric suffix.
func writeImages(dir string, imgs []decodedImage) ([]string, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating upload directory: %w", err)
	}

	paths := make([]string, 0, len(imgs))
	for _, img := range imgs {
		path := filepath.Join(dir, img.filename)
		ext := filepath.Ext(img.filename)
		stem := strings.TrimSuffix(img.filename, ext)
		for n := 2; ; n++ {
			if _, err := os.Stat(path); os.IsNotExist(err) {
				break
			}
			path = filepath.Join(dir, fmt.Sprintf("%s-%d%s", stem, n, ext))
		}
		if err := os.WriteFile(path, img.data, 0o600); err != nil {
			return nil, fmt.Errorf("writing uploaded image: %w", err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}
