package extraction

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"google.golang.org/api/iterator"
)

const vertexSystemPrompt = "You are an OCR engine. You return the exact text visible in images and nothing else."

// Vertex implements Extractor using Gemini models served by Vertex AI
type Vertex struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewVertex creates a Vertex AI Extractor. Credentials come from the environment.
func NewVertex(ctx context.Context, projectID, region, modelName string) (*Vertex, error) {
	if projectID == "" {
		return nil, fmt.Errorf("vertex project is required")
	}
	if region == "" {
		region = "us-central1"
	}
	if modelName == "" {
		modelName = "gemini-1.5-pro"
	}

	client, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("creating vertex client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(vertexSystemPrompt)},
	}
	model.GenerationConfig = genai.GenerationConfig{
		Temperature: genai.Ptr[float32](0.0),
	}

	return &Vertex{
		client: client,
		model:  model,
	}, nil
}

// Name returns the backend name
func (v *Vertex) Name() string { return "vertex" }

// ExtractText transcribes the screenshot through a streaming Vertex AI call
func (v *Vertex) ExtractText(ctx context.Context, imageData []byte, contentType string, progress chan<- int) (string, error) {
	pngData, err := prepareImageData(imageData, contentType)
	if err != nil {
		return "", err
	}
	reportProgress(progress, progressPrepared)

	iter := v.model.GenerateContentStream(ctx,
		genai.Blob{MIMEType: "image/png", Data: pngData},
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
		if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
			for _, part := range resp.Candidates[0].Content.Parts {
				if t, ok := part.(genai.Text); ok {
					text.WriteString(string(t))
				}
			}
		}
		reportProgress(progress, streamProgress(chunks))
	}

	transcript := cleanTranscript(text.String())
	if refused(transcript) {
		return "", fmt.Errorf("vertex response indicates refusal")
	}

	reportProgress(progress, progressComplete)
	return transcript, nil
}

// Close closes the Vertex AI client
func (v *Vertex) Close() error {
	if v.client != nil {
		return v.client.Close()
	}
	return nil
}

var refusalPhrases = []string{
	"i am unable to",
	"i cannot fulfill",
	"i cannot provide",
	"as a large language model",
}

// refused reports whether a model answered with a refusal instead of a transcript
func refused(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range refusalPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
