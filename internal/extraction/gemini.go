package extraction

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// Gemini implements Extractor using the Gemini API
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGemini creates a new Gemini Extractor instance
func NewGemini(ctx context.Context, apiKey string, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(0)

	return &Gemini{
		client: client,
		model:  model,
	}, nil
}

// Name returns the backend name
func (g *Gemini) Name() string { return "gemini" }

// ExtractText transcribes the screenshot, streaming the response so progress
// advances with every chunk received
func (g *Gemini) ExtractText(ctx context.Context, imageData []byte, contentType string, progress chan<- int) (string, error) {
	pngData, err := prepareImageData(imageData, contentType)
	if err != nil {
		return "", err
	}
	reportProgress(progress, progressPrepared)

	// genai.ImageData takes the format suffix, and the data is PNG by now
	iter := g.model.GenerateContentStream(ctx,
		genai.ImageData("png", pngData),
		genai.Text(transcriptionPrompt),
	)
	reportProgress(progress, progressRequested)

	var text strings.Builder
	for chunks := 1; ; chunks++ {
		resp, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("generating content: %w", err)
		}
		for _, cand := range resp.Candidates {
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				if t, ok := part.(genai.Text); ok {
					text.WriteString(string(t))
				}
			}
		}
		reportProgress(progress, streamProgress(chunks))
	}

	reportProgress(progress, progressComplete)
	return cleanTranscript(text.String()), nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
