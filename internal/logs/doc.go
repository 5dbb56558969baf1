// Package logs reads the daemon log file for the `podindex logs` command.
//
// Last returns the final lines of a file with bounded memory. Follow then
// streams appended lines, woken by fsnotify events on the log directory with
// a periodic poll as a fallback for filesystems that drop events.
package logs
