package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// maxTranscriptRunes bounds the transcript sent in one prompt.
const maxTranscriptRunes = 400_000

// MetadataPrompt instructs the model to return episode metadata as JSON.
const MetadataPrompt = `You extract structured metadata from podcast transcripts.
Respond with a single JSON object and nothing else:
{
  "summary": "a concise but informative 2-3 paragraph summary of the episode",
  "keywords": ["5-10 keywords or topics discussed"],
  "hosts": ["names of the hosts and co-hosts"],
  "guests": ["names of the guests"]
}
Use empty lists when names are not mentioned. Never invent names.`

// EpisodeMetadata is the model's answer for one episode. It is returned as
// decoded; callers validate it.
type EpisodeMetadata struct {
	Summary  string   `json:"summary"`
	Keywords []string `json:"keywords"`
	Hosts    []string `json:"hosts"`
	Guests   []string `json:"guests"`
	CoHosts  []string `json:"co_hosts,omitempty"`
	Raw      string   `json:"-"`
}

// ErrMalformedResponse means the model answered but not with usable JSON.
var ErrMalformedResponse = errors.New("malformed metadata response")

// ExtractEpisodeMetadata asks the model for the summary, keywords, hosts and
// guests of an episode given its transcript and title.
func (c *Client) ExtractEpisodeMetadata(ctx context.Context, transcript, title string) (EpisodeMetadata, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return EpisodeMetadata{}, errors.New("llm metadata: transcript required")
	}
	if utf8.RuneCountInString(transcript) > maxTranscriptRunes {
		transcript = string([]rune(transcript)[:maxTranscriptRunes])
	}

	var prompt strings.Builder
	if title = strings.TrimSpace(title); title != "" {
		fmt.Fprintf(&prompt, "Episode title: %s\n\n", title)
	}
	prompt.WriteString("Transcript:\n")
	prompt.WriteString(transcript)

	content, err := c.CompleteJSON(ctx, MetadataPrompt, prompt.String())
	if err != nil {
		return EpisodeMetadata{}, err
	}
	var parsed EpisodeMetadata
	if err := DecodeLLMJSON(content, &parsed); err != nil {
		return EpisodeMetadata{}, fmt.Errorf("llm metadata: %w: %w", ErrMalformedResponse, err)
	}
	parsed.Raw = content
	if len(parsed.CoHosts) > 0 {
		parsed.Hosts = append(parsed.Hosts, parsed.CoHosts...)
		parsed.CoHosts = nil
	}
	return parsed, nil
}
