package metadata

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dhowden/tag"
)

// audioArtist returns the artist recorded in the audio file's tags, falling
// back to the album artist. Files without tags yield an empty name.
func audioArtist(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", nil
	}
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open audio: %w", err)
	}
	defer file.Close()

	tags, err := tag.ReadFrom(file)
	if errors.Is(err, tag.ErrNoTagsFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read audio tags: %w", err)
	}
	if artist := strings.Join(strings.Fields(tags.Artist()), " "); artist != "" {
		return artist, nil
	}
	return strings.Join(strings.Fields(tags.AlbumArtist()), " "), nil
}
