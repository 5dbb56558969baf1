package transcription

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"podindex/internal/logging"
	"podindex/internal/queue"
	"podindex/internal/services"
	"podindex/internal/services/whisperx"
	"podindex/internal/testsupport"
)

type fakeTranscriber struct {
	text  string
	err   error
	calls int
}

func (f *fakeTranscriber) Transcribe(_ context.Context, audioPath, workDir string) (whisperx.Result, error) {
	f.calls++
	if _, err := os.Stat(workDir); err != nil {
		return whisperx.Result{}, err
	}
	return whisperx.Result{Text: f.text}, f.err
}

func (f *fakeTranscriber) Model() string { return "fake" }

func seedAudio(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "Show", "Episode_1.mp3")
	testsupport.WriteFile(t, path, 64)
	return path
}

func TestExecuteWritesTranscript(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	fake := &fakeTranscriber{text: "hello there"}
	handler := NewHandler(cfg, fake, logging.NewNop())
	episode := &queue.Episode{ID: 1, PodcastTitle: "Show", LocalFilePath: seedAudio(t, cfg.Paths.AudioDir)}

	result, err := handler.Execute(context.Background(), episode)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	tr := result.(queue.TranscriptResult)
	want := filepath.Join(cfg.Paths.TranscriptDir, "Show", "Episode_1_transcription.txt")
	if tr.Path != want || tr.Text != "hello there" {
		t.Fatalf("unexpected result %+v", tr)
	}
	data, err := os.ReadFile(want)
	if err != nil || string(data) != "hello there" {
		t.Fatalf("transcript file = %q, %v", data, err)
	}

	if _, err := handler.Execute(context.Background(), episode); err != nil {
		t.Fatalf("second Execute: %v", err)
	}
	if fake.calls != 1 {
		t.Fatalf("expected existing transcript to be reused, got %d calls", fake.calls)
	}
}

func TestExecuteDoesNotReuseAnotherEpisodesTranscript(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	fake := &fakeTranscriber{text: "second episode"}
	handler := NewHandler(cfg, fake, logging.NewNop())

	// Same podcast and title; the audio names differ by artifact tag.
	firstAudio := filepath.Join(cfg.Paths.AudioDir, "Show", "Bonus_Episode_aaaa1111.mp3")
	secondAudio := filepath.Join(cfg.Paths.AudioDir, "Show", "Bonus_Episode_bbbb2222.mp3")
	testsupport.WriteFile(t, firstAudio, 16)
	testsupport.WriteFile(t, secondAudio, 16)
	first := &queue.Episode{ID: 1, PodcastTitle: "Show", Title: "Bonus Episode", LocalFilePath: firstAudio}
	if err := os.MkdirAll(filepath.Dir(handler.TranscriptPath(first)), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(handler.TranscriptPath(first), []byte("first episode"), 0o644); err != nil {
		t.Fatalf("seed transcript: %v", err)
	}

	second := &queue.Episode{ID: 2, PodcastTitle: "Show", Title: "Bonus Episode", LocalFilePath: secondAudio}
	result, err := handler.Execute(context.Background(), second)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if tr := result.(queue.TranscriptResult); tr.Text != "second episode" || fake.calls != 1 {
		t.Fatalf("expected a fresh transcript, got %+v after %d calls", tr, fake.calls)
	}
}

func TestExecuteFailureClasses(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	audio := seedAudio(t, cfg.Paths.AudioDir)

	tests := []struct {
		name  string
		audio string
		err   error
		want  services.FailureClass
	}{
		{"missing audio", filepath.Join(cfg.Paths.AudioDir, "nope.mp3"), nil, services.FailurePermanent},
		{"no speech", audio, whisperx.ErrNoSpeech, services.FailureValidation},
		{"tool failure", audio, errors.New("exit status 1"), services.FailureTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHandler(cfg, &fakeTranscriber{err: tt.err}, logging.NewNop())
			_, err := handler.Execute(context.Background(), &queue.Episode{ID: 2, PodcastTitle: "Other", LocalFilePath: tt.audio})
			if got := services.Classify(err); err == nil || got != tt.want {
				t.Fatalf("Classify(%v) = %s, want %s", err, got, tt.want)
			}
		})
	}
}

func TestHealthCheck(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	handler := NewHandler(cfg, &fakeTranscriber{}, logging.NewNop())
	handler.lookPath = func(string) (string, error) { return "", errors.New("missing") }
	if handler.HealthCheck(context.Background()).Ready {
		t.Fatal("expected unhealthy without uvx")
	}
	handler.lookPath = func(name string) (string, error) { return "/usr/bin/" + name, nil }
	if !handler.HealthCheck(context.Background()).Ready {
		t.Fatal("expected healthy")
	}
}
