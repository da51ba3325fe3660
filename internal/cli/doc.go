// Package cli parses the lasergrave command line, builds the logger and runs
// the chosen command against the configuration, the store and the
// controller.
package cli
