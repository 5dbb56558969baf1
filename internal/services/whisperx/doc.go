// Package whisperx runs WhisperX speech-to-text through uvx and reads the
// transcript back from its JSON output.
package whisperx
