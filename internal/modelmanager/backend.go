package modelmanager

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Backend is the inference runtime an agent drives — Ollama by default.
// It is an interface so tests can substitute a fake without touching the
// network, and so a different runtime could be wired in later without
// changing Manager.
type Backend interface {
	ListModels(ctx context.Context) ([]string, error)
	PullModel(ctx context.Context, model string) error
	Generate(ctx context.Context, model, prompt string, options map[string]any) (<-chan GenerateChunk, error)
	ShowModel(ctx context.Context, model string) (map[string]any, error)
}

// GenerateChunk is one line of a streamed /api/generate response.
type GenerateChunk struct {
	Response string
	Done     bool
	Raw      map[string]any
	Err      error
}

// OllamaBackend talks to a local Ollama daemon over its line-delimited
// JSON HTTP API. No HTTP client library is reachable from the retrieved
// dependency pack for this concern, so it is built directly on net/http
// and bufio.Scanner.
type OllamaBackend struct {
	baseURL string
	client  *http.Client
}

// NewOllamaBackend builds a backend pointed at host (e.g. "http://localhost:11434").
func NewOllamaBackend(host string) *OllamaBackend {
	return &OllamaBackend{
		baseURL: host,
		client: &http.Client{
			Timeout: 300 * time.Second,
		},
	}
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

func (b *OllamaBackend) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list models: backend returned status %d", resp.StatusCode)
	}

	var parsed tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode tags response: %w", err)
	}

	names := make([]string, 0, len(parsed.Models))
	for _, m := range parsed.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

func (b *OllamaBackend) PullModel(ctx context.Context, model string) error {
	body, err := json.Marshal(map[string]string{"name": model})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pull model %s: backend returned status %d", model, resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var status struct {
			Status string `json:"status"`
			Error  string `json:"error"`
		}
		if err := json.Unmarshal(line, &status); err != nil {
			continue
		}
		if status.Error != "" {
			return fmt.Errorf("pull model %s: %s", model, status.Error)
		}
	}
	return scanner.Err()
}

func (b *OllamaBackend) Generate(ctx context.Context, model, prompt string, options map[string]any) (<-chan GenerateChunk, error) {
	payload := map[string]any{
		"model":  model,
		"prompt": prompt,
		"stream": true,
	}
	if len(options) > 0 {
		payload["options"] = options
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("generate with %s: backend returned status %d", model, resp.StatusCode)
	}

	out := make(chan GenerateChunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			default:
			}

			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}

			var raw map[string]any
			if err := json.Unmarshal(line, &raw); err != nil {
				continue
			}

			chunk := GenerateChunk{Raw: raw}
			if resp, ok := raw["response"].(string); ok {
				chunk.Response = resp
			}
			if done, ok := raw["done"].(bool); ok {
				chunk.Done = done
			}

			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}

			if chunk.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			select {
			case out <- GenerateChunk{Err: err}:
			case <-ctx.Done():
			}
		}
	}()

	return out, nil
}

func (b *OllamaBackend) ShowModel(ctx context.Context, model string) (map[string]any, error) {
	body, err := json.Marshal(map[string]string{"name": model})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/api/show", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("show model %s: backend returned status %d", model, resp.StatusCode)
	}

	var info map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, err
	}
	return info, nil
}
