// Package cli is an interactive terminal peer for devsync rooms. It joins
// a file's room, shows the shared text and who else is editing, and sends
// edits typed as commands.
package cli
