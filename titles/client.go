package titles

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Metadata is the publish metadata generated for one clip.
type Metadata struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

// Generator produces publish metadata from transcript context.
type Generator interface {
	Generate(ctx context.Context, transcript string) (Metadata, error)
}

// ErrRateLimited indicates the AI API asked us to back off.
var ErrRateLimited = errors.New("title generation rate limited")

// Client calls a chat-completions style endpoint to generate
// titles, descriptions and tags.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey, model string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

const systemPrompt = "You write YouTube Shorts metadata. Reply with a JSON object " +
	`{"title": ..., "description": ..., "tags": [...]}. ` +
	"The title must be under 90 characters and must not be clickbait."

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *Client) Generate(ctx context.Context, transcript string) (Metadata, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: "Transcript of the clip:\n" + transcript},
		},
	})
	if err != nil {
		return Metadata{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return Metadata{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Metadata{}, fmt.Errorf("title generation request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return Metadata{}, ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return Metadata{}, fmt.Errorf("title generation failed with status %s", resp.Status)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Metadata{}, fmt.Errorf("could not decode title response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return Metadata{}, fmt.Errorf("title response contained no choices")
	}

	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	var meta Metadata
	if err := json.Unmarshal([]byte(stripCodeFence(content)), &meta); err != nil || meta.Title == "" {
		// Some models answer in plain text; use it as the title.
		meta = Metadata{Title: firstLine(content)}
	}
	return meta, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
	}
	return strings.TrimSpace(s)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.Trim(s, `" `)
}
