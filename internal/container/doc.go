// Package container starts embedded projects and reports the surface
// (URL and origin) they are served from.
//
// Preview targets a hosted in-browser environment where the browser boots
// the files itself. Process runs the project's dev command locally under a
// pseudo-terminal and waits for it to print a local URL.
package container
