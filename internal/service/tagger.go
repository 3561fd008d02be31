package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strings"
	"time"
)

type Label struct {
	Name       string
	Confidence float64
}

// Tagger talks to an image recognition service. The service takes a
// multipart upload and answers with a list of {"tags": {label: confidence}}
// objects.
type Tagger struct {
	Endpoint      string
	APIKey        string
	MinConfidence float64
	MaxTags       int

	client *http.Client
}

func NewTagger(endpoint, apiKey string, minConfidence float64, maxTags int, timeout time.Duration) *Tagger {
	return &Tagger{
		Endpoint:      endpoint,
		APIKey:        apiKey,
		MinConfidence: minConfidence,
		MaxTags:       maxTags,
		client:        &http.Client{Timeout: timeout},
	}
}

// Tag returns the labels above the confidence threshold, best first
func (t *Tagger) Tag(ctx context.Context, filename string, r io.Reader) ([]Label, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}

	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("failed to buffer image, %w", err)
	}

	if err := writer.WriteField("format", "json"); err != nil {
		return nil, err
	}

	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.Endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare tagging request, %w", err)
	}

	req.Header.Set("Content-Type", writer.FormDataContentType())
	if t.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.APIKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach tagging service, %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("tagging service responded with status %d", resp.StatusCode)
	}

	var parsed []struct {
		Tags map[string]float64 `json:"tags"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode tagging response, %w", err)
	}

	if len(parsed) == 0 {
		return nil, nil
	}

	labels := []Label{}
	for name, conf := range parsed[0].Tags {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || conf <= t.MinConfidence {
			continue
		}

		labels = append(labels, Label{Name: name, Confidence: conf})
	}

	sort.Slice(labels, func(i, j int) bool {
		if labels[i].Confidence == labels[j].Confidence {
			return labels[i].Name < labels[j].Name
		}

		return labels[i].Confidence > labels[j].Confidence
	})

	if t.MaxTags > 0 && len(labels) > t.MaxTags {
		labels = labels[:t.MaxTags]
	}

	return labels, nil
}
