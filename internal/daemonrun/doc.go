// Package daemonrun assembles the podindex runtime from configuration and
// runs the long-lived daemon process.
package daemonrun
