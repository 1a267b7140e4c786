package extraction

import (
	"context"
	"fmt"
	"strings"
)

// Extractor turns a payment screenshot into plain text
type Extractor interface {
	// ExtractText reads all visible text in the image. Progress percentages
	// (0-100) are sent on progress without blocking; progress may be nil.
	ExtractText(ctx context.Context, imageData []byte, contentType string, progress chan<- int) (string, error)
	// Name identifies the backend in logs
	Name() string
	// Close releases the backend's resources
	Close() error
}

// Config selects and configures a backend
type Config struct {
	Backend string

	GeminiAPIKey string
	GeminiModel  string

	VertexProject string
	VertexRegion  string
	VertexModel   string

	OllamaURL   string
	OllamaModel string

	YandexOAuthToken string
	YandexFolderID   string
}

// New creates the backend named by cfg.Backend
func New(ctx context.Context, cfg Config) (Extractor, error) {
	switch strings.ToLower(cfg.Backend) {
	case "gemini", "":
		return NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	case "vertex":
		return NewVertex(ctx, cfg.VertexProject, cfg.VertexRegion, cfg.VertexModel)
	case "ollama":
		return NewOllama(cfg.OllamaURL, cfg.OllamaModel)
	case "yandex":
		return NewYandex(cfg.YandexOAuthToken, cfg.YandexFolderID)
	default:
		return nil, fmt.Errorf("unknown extractor %q (must be gemini, vertex, ollama or yandex)", cfg.Backend)
	}
}

// transcriptionPrompt is shared by the LLM backends
const transcriptionPrompt = `You are reading a screenshot of a UPI payment confirmation (Google Pay, PhonePe, Paytm, BHIM or a bank app).

Transcribe ALL visible text in the image exactly as it appears, top to bottom, one line per line of text.

Important:
- Keep amounts exactly as shown, including the ₹ symbol, "Rs." prefixes, ".00" and "/-" suffixes
- Keep transaction ids, UTR numbers and reference numbers exactly, digit for digit
- Keep status words such as "Paid", "Successful" or "Completed"
- Do not summarise, translate or explain
- Do not use markdown code blocks`

// Backend progress checkpoints
const (
	progressPrepared  = 10
	progressRequested = 20
	progressStreamCap = 95
	progressComplete  = 100
)

// reportProgress sends p on progress unless the receiver is not ready
func reportProgress(progress chan<- int, p int) {
	if progress == nil {
		return
	}
	select {
	case progress <- p:
	default:
	}
}

// streamProgress estimates progress after n streamed chunks.
// It grows with every chunk and never reaches progressStreamCap.
func streamProgress(n int) int {
	span := progressStreamCap - progressRequested
	return progressRequested + span*n/(n+8)
}

// cleanTranscript strips code fences some models add despite the prompt
func cleanTranscript(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```text")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
