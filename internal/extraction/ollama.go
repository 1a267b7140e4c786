package extraction

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Ollama implements Extractor using a local Ollama vision model
type Ollama struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllama creates a new Ollama Extractor instance.
// Vision models that read printed text well: llava:1.6, qwen2-vl:7b, llama3.2-vision.
func NewOllama(baseURL string, modelName string) (*Ollama, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if modelName == "" {
		modelName = "llava"
	}

	return &Ollama{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   modelName,
		client: &http.Client{
			Timeout: 120 * time.Second, // vision models on CPU are slow
		},
	}, nil
}

// Name returns the backend name
func (o *Ollama) Name() string { return "ollama" }

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// ollamaChatChunk is one line of Ollama's streamed NDJSON response
type ollamaChatChunk struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
	Error   string        `json:"error,omitempty"`
}

// ExtractText transcribes the screenshot, reading Ollama's streamed reply chunk by chunk
func (o *Ollama) ExtractText(ctx context.Context, imageData []byte, contentType string, progress chan<- int) (string, error) {
	pngData, err := prepareImageData(imageData, contentType)
	if err != nil {
		return "", err
	}
	reportProgress(progress, progressPrepared)

	reqBody := ollamaChatRequest{
		Model:  o.model,
		Stream: true,
		Messages: []ollamaMessage{
			{
				Role:    "system",
				Content: "You are an OCR engine. You carefully read every piece of text in images and return it verbatim.",
			},
			{
				Role:    "user",
				Content: transcriptionPrompt,
				Images:  []string{base64.StdEncoding.EncodeToString(pngData)},
			},
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/api/chat", o.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling ollama API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ollama API error (status %d): %s", resp.StatusCode, string(body))
	}
	reportProgress(progress, progressRequested)

	var text strings.Builder
	dec := json.NewDecoder(resp.Body)
	for chunks := 1; ; chunks++ {
		var chunk ollamaChatChunk
		if err := dec.Decode(&chunk); err != nil {
			if errors.Is(err, io.EOF) {
				return "", fmt.Errorf("ollama stream ended before completion")
			}
			return "", fmt.Errorf("decoding response: %w", err)
		}
		if chunk.Error != "" {
			return "", fmt.Errorf("ollama API error: %s", chunk.Error)
		}
		text.WriteString(chunk.Message.Content)
		if chunk.Done {
			break
		}
		reportProgress(progress, streamProgress(chunks))
	}

	reportProgress(progress, progressComplete)
	return cleanTranscript(text.String()), nil
}

// Close closes the Ollama client (no-op for HTTP client)
func (o *Ollama) Close() error {
	return nil
}
