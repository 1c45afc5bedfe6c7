// Package logging builds the slog handlers used by the lam commands.
package logging
