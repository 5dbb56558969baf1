// Package textutil provides filename sanitization shared by the stage
// handlers that place audio and transcript files on disk.
package textutil
