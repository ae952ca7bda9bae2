// Package llm wraps the remote chat-completion provider behind a small
// streaming boundary. Given ordered role-tagged messages it produces a lazy
// sequence of text fragments, or fails with an error wrapping ErrProvider.
package llm

import (
	"context"
	"errors"
	"iter"
)

// Message is one role-tagged prompt entry.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ErrProvider marks completion-provider failures: network errors, a missing
// API key, or no reachable candidate model.
var ErrProvider = errors.New("completion provider error")

// Streamer produces completion text fragments for a prompt.
//
// The sequence ends normally when the provider signals completion. Callers
// must tolerate zero fragments (empty but successful stream) and partial
// fragments before a cut-off failure; fragments already yielded are theirs
// to keep.
type Streamer interface {
	// Stream requests a completion and yields text deltas as they arrive.
	// A yielded non-nil error terminates the sequence.
	Stream(ctx context.Context, messages []Message) iter.Seq2[string, error]

	// Available reports whether the provider responded recently. Results
	// are cached briefly, so this is cheap enough for health checks.
	Available(ctx context.Context) bool
}

// SystemPrompt is the personality prompt prepended to every completion
// request.
const SystemPrompt = `Eres 'FitBot', un Entrenador Personal virtual. Tu tono es motivador, amigable y profesional.

IMPORTANTE: Usa formato Markdown.
- Usa **negrita** para resaltar.
- Usa listas con viñetas para pasos o consejos.
- Párrafos cortos y fáciles de leer.

Al responder:
1) Si ya conoces metas, experiencia, equipamiento o limitaciones del usuario (por su historial), NO vuelvas a preguntarlo. Úsalo directamente y solo pedí lo que falte o confirmá cambios.
2) Crea rutinas claras y semanales según su contexto.
3) Explica ejercicios cuando te lo pidan (técnica, respiración y seguridad).
4) Da consejos de nutrición generales y seguros.
5) Motiva y celebra el progreso.

No respondas a temas fuera de fitness, salud o nutrición.`
