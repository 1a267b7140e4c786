package extraction

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultYandexOCRURL = "https://ocr.api.cloud.yandex.net/ocr/v1/recognizeText"

// Yandex implements Extractor using Yandex Vision OCR
type Yandex struct {
	iam      *iamClient
	ocrURL   string
	folderID string
	httpc    *http.Client
}

// NewYandex creates a Yandex Vision OCR Extractor
func NewYandex(oauthToken, folderID string) (*Yandex, error) {
	return NewYandexWithEndpoints(oauthToken, folderID, defaultIAMURL, defaultYandexOCRURL)
}

// NewYandexWithEndpoints creates a Yandex Extractor talking to the given IAM and OCR endpoints
func NewYandexWithEndpoints(oauthToken, folderID, iamURL, ocrURL string) (*Yandex, error) {
	if oauthToken == "" {
		return nil, fmt.Errorf("yandex oauth token is required")
	}
	if folderID == "" {
		return nil, fmt.Errorf("yandex folder id is required")
	}
	if ocrURL == "" {
		ocrURL = defaultYandexOCRURL
	}
	return &Yandex{
		iam:      newIAMClient(iamURL, oauthToken),
		ocrURL:   ocrURL,
		folderID: folderID,
		httpc:    &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// Name returns the backend name
func (y *Yandex) Name() string { return "yandex" }

type yandexRequest struct {
	Content       string   `json:"content"`
	MimeType      string   `json:"mimeType"`
	LanguageCodes []string `json:"languageCodes"`
	Model         string   `json:"model"`
}

type yandexResponse struct {
	Result *struct {
		TextAnnotation *yandexTextAnnotation `json:"textAnnotation,omitempty"`
	} `json:"result,omitempty"`
}

type yandexTextAnnotation struct {
	FullText string `json:"fullText,omitempty"`
	Blocks   []struct {
		Lines []struct {
			Text string `json:"text,omitempty"`
		} `json:"lines,omitempty"`
	} `json:"blocks,omitempty"`
}

// ExtractText sends the screenshot to the OCR API. An expired IAM token is refreshed once.
func (y *Yandex) ExtractText(ctx context.Context, imageData []byte, contentType string, progress chan<- int) (string, error) {
	pngData, err := prepareImageData(imageData, contentType)
	if err != nil {
		return "", err
	}
	reportProgress(progress, progressPrepared)

	payload, err := json.Marshal(yandexRequest{
		Content:       base64.StdEncoding.EncodeToString(pngData),
		MimeType:      "PNG",
		LanguageCodes: []string{"en"},
		Model:         "page",
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	resp, err := y.recognize(ctx, payload)
	if err != nil {
		return "", err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		y.iam.invalidate()
		if resp, err = y.recognize(ctx, payload); err != nil {
			return "", err
		}
	}
	defer resp.Body.Close()
	reportProgress(progress, progressRequested)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("yandex ocr API error (status %d): %s", resp.StatusCode, string(body))
	}

	var out yandexResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}

	reportProgress(progress, progressComplete)
	if out.Result == nil || out.Result.TextAnnotation == nil {
		return "", nil
	}
	return out.Result.TextAnnotation.text(), nil
}

func (y *Yandex) recognize(ctx context.Context, payload []byte) (*http.Response, error) {
	token, err := y.iam.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting iam token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, y.ocrURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("x-folder-id", y.folderID)

	resp, err := y.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling yandex ocr API: %w", err)
	}
	return resp, nil
}

// text prefers the full text and falls back to joining recognised lines
func (a *yandexTextAnnotation) text() string {
	if t := strings.TrimSpace(a.FullText); t != "" {
		return t
	}
	var lines []string
	for _, b := range a.Blocks {
		for _, l := range b.Lines {
			if s := strings.TrimSpace(l.Text); s != "" {
				lines = append(lines, s)
			}
		}
	}
	return strings.Join(lines, "\n")
}

// Close is a no-op for the HTTP client
func (y *Yandex) Close() error {
	return nil
}
