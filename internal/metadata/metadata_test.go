package metadata

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"podindex/internal/logging"
	"podindex/internal/queue"
	"podindex/internal/services"
	"podindex/internal/services/llm"
	"podindex/internal/testsupport"
)

type fakeExtractor struct {
	out       llm.EpisodeMetadata
	err       error
	gotText   string
	gotTitle  string
	healthErr error
}

func (f *fakeExtractor) ExtractEpisodeMetadata(_ context.Context, transcript, title string) (llm.EpisodeMetadata, error) {
	f.gotText, f.gotTitle = transcript, title
	return f.out, f.err
}

func (f *fakeExtractor) HealthCheck(context.Context) error { return f.healthErr }

func TestValidateCleansLists(t *testing.T) {
	got, err := Validate(llm.EpisodeMetadata{
		Summary:  "  A talk.  ",
		Keywords: []string{"Go", " go ", "", "Concurrency", "concurrency"},
		Hosts:    []string{"Ann  Lee"},
		CoHosts:  []string{"Bob"},
		Guests:   []string{"ann lee", "Cara", "cara"},
	})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got.Summary != "A talk." {
		t.Fatalf("summary = %q", got.Summary)
	}
	if !slices.Equal(got.Keywords, []string{"Go", "Concurrency"}) {
		t.Fatalf("keywords = %v", got.Keywords)
	}
	if !slices.Equal(got.Hosts, []string{"Ann Lee", "Bob"}) {
		t.Fatalf("hosts = %v", got.Hosts)
	}
	if !slices.Equal(got.Guests, []string{"Cara"}) {
		t.Fatalf("guests = %v", got.Guests)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []llm.EpisodeMetadata{
		{Summary: " ", Keywords: []string{"x"}},
		{Summary: "ok", Keywords: []string{" ", ""}},
	}
	for i, tt := range tests {
		if _, err := Validate(tt); !errors.Is(err, ErrInvalidMetadata) {
			t.Fatalf("case %d: expected ErrInvalidMetadata, got %v", i, err)
		}
	}
}

func TestExecuteReadsTranscriptFile(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	path := filepath.Join(cfg.Paths.TranscriptDir, "t.txt")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("from disk"), 0o644); err != nil {
		t.Fatal(err)
	}
	fake := &fakeExtractor{out: llm.EpisodeMetadata{Summary: "s", Keywords: []string{"k"}}}
	handler := NewHandler(cfg, fake, logging.NewNop())

	result, err := handler.Execute(context.Background(), &queue.Episode{Title: "Ep", TranscriptPath: path})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if fake.gotText != "from disk" || fake.gotTitle != "Ep" {
		t.Fatalf("extractor got %q / %q", fake.gotText, fake.gotTitle)
	}
	if md := result.(queue.MetadataResult); md.Summary != "s" {
		t.Fatalf("unexpected result %+v", md)
	}
}

func TestExecuteFailureClasses(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	tests := []struct {
		name    string
		episode queue.Episode
		fake    fakeExtractor
		want    services.FailureClass
	}{
		{"no transcript", queue.Episode{}, fakeExtractor{}, services.FailurePermanent},
		{"malformed", queue.Episode{TranscriptText: "t"}, fakeExtractor{err: fmt.Errorf("wrap: %w", llm.ErrMalformedResponse)}, services.FailureValidation},
		{"empty summary", queue.Episode{TranscriptText: "t"}, fakeExtractor{out: llm.EpisodeMetadata{Keywords: []string{"k"}}}, services.FailureValidation},
		{"network", queue.Episode{TranscriptText: "t"}, fakeExtractor{err: errors.New("connection reset")}, services.FailureTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHandler(cfg, &tt.fake, logging.NewNop())
			_, err := handler.Execute(context.Background(), &tt.episode)
			if err == nil || services.Classify(err) != tt.want {
				t.Fatalf("Classify(%v) = %s, want %s", err, services.Classify(err), tt.want)
			}
		})
	}
}

// writeTaggedAudio writes an ID3v2.3 header carrying a single TPE1 frame,
// followed by a few bytes standing in for audio.
func writeTaggedAudio(t *testing.T, path, artist string) {
	t.Helper()
	frame := []byte("TPE1")
	body := append([]byte{3}, artist...)
	frame = binary.BigEndian.AppendUint32(frame, uint32(len(body)))
	frame = append(frame, 0, 0)
	frame = append(frame, body...)

	padding := make([]byte, 16)
	size := len(frame) + len(padding)
	header := []byte{'I', 'D', '3', 3, 0, 0,
		byte(size>>21&0x7f), byte(size>>14&0x7f), byte(size>>7&0x7f), byte(size&0x7f)}

	data := append(append(append(header, frame...), padding...), []byte("audio-bytes")...)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestExecuteFallsBackToAudioArtist(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	audio := filepath.Join(t.TempDir(), "ep.mp3")
	writeTaggedAudio(t, audio, "Jane  Host")

	fake := &fakeExtractor{out: llm.EpisodeMetadata{
		Summary:  "s",
		Keywords: []string{"k"},
		Guests:   []string{"jane host", "Sam"},
	}}
	handler := NewHandler(cfg, fake, logging.NewNop())

	result, err := handler.Execute(context.Background(), &queue.Episode{TranscriptText: "t", LocalFilePath: audio})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	md := result.(queue.MetadataResult)
	if !slices.Equal(md.Hosts, []string{"Jane Host"}) {
		t.Fatalf("hosts = %v", md.Hosts)
	}
	if !slices.Equal(md.Guests, []string{"Sam"}) {
		t.Fatalf("guests = %v", md.Guests)
	}
}

func TestExecuteKeepsExtractedHostsOverAudioArtist(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	audio := filepath.Join(t.TempDir(), "ep.mp3")
	writeTaggedAudio(t, audio, "Network Name")

	fake := &fakeExtractor{out: llm.EpisodeMetadata{Summary: "s", Keywords: []string{"k"}, Hosts: []string{"Ann"}}}
	handler := NewHandler(cfg, fake, logging.NewNop())

	result, err := handler.Execute(context.Background(), &queue.Episode{TranscriptText: "t", LocalFilePath: audio})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if md := result.(queue.MetadataResult); !slices.Equal(md.Hosts, []string{"Ann"}) {
		t.Fatalf("hosts = %v", md.Hosts)
	}
}

func TestExecuteToleratesMissingAudio(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	untagged := filepath.Join(t.TempDir(), "plain.mp3")
	if err := os.WriteFile(untagged, make([]byte, 256), 0o644); err != nil {
		t.Fatal(err)
	}

	for _, path := range []string{"", filepath.Join(t.TempDir(), "gone.mp3"), untagged} {
		fake := &fakeExtractor{out: llm.EpisodeMetadata{Summary: "s", Keywords: []string{"k"}}}
		handler := NewHandler(cfg, fake, logging.NewNop())
		result, err := handler.Execute(context.Background(), &queue.Episode{TranscriptText: "t", LocalFilePath: path})
		if err != nil {
			t.Fatalf("Execute(%q): %v", path, err)
		}
		if md := result.(queue.MetadataResult); len(md.Hosts) != 0 {
			t.Fatalf("Execute(%q) hosts = %v", path, md.Hosts)
		}
	}
}
