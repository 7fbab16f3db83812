package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/avelens/spotigram/internal/apperror"
	"github.com/avelens/spotigram/internal/config"
)

const (
	defaultAPIURL   = "https://api.anthropic.com/v1/messages"
	apiVersion      = "2023-06-01"
	maxOutputTokens = 2048
	temperature     = 0.6
)

const systemPrompt = "You are an experienced music curator. Recommend contemporary or classic songs " +
	"that match the listener's requested mood or scenario. Always respond with pure " +
	"JSON that matches the schema provided."

const userPromptTemplate = "Using the following context, suggest exactly %d songs that fit the vibe. " +
	`Return ONLY strict JSON with the shape: {"tracks": [{"title": str, "artist": str} * %d]}. ` +
	"Do not add explanations, comments, markdown, or keys besides 'tracks'.\n\nContext: %s"

// PlannedTrack is one song descriptor suggested by the model.
type PlannedTrack struct {
	Title  string `json:"title"`
	Artist string `json:"artist"`
}

// Planner asks Claude for playlist ideas: given a free-form vibe prompt it
// returns a fixed number of track descriptors. The model's output is parsed
// into a fixed shape at this boundary; malformed responses are an error,
// never loosely-typed data handed inward.
type Planner struct {
	apiKey     string
	apiURL     string
	model      string
	trackCount int
	httpClient *http.Client
}

// New creates a planner from configuration
func New(cfg config.PlannerConfig) *Planner {
	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	return &Planner{
		apiKey:     cfg.APIKey,
		apiURL:     apiURL,
		model:      cfg.Model,
		trackCount: cfg.TrackCount,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system"`
	Messages  []message `json:"messages"`
	// Temperature steers variety between repeated mix requests.
	Temperature float64 `json:"temperature"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Plan requests track suggestions for a vibe description.
func (p *Planner) Plan(ctx context.Context, vibe string) ([]PlannedTrack, error) {
	vibe = strings.TrimSpace(vibe)
	if vibe == "" {
		return nil, fmt.Errorf("planner: empty prompt")
	}

	text, err := p.complete(ctx, systemPrompt,
		fmt.Sprintf(userPromptTemplate, p.trackCount, p.trackCount, vibe),
		maxOutputTokens, temperature)
	if err != nil {
		return nil, err
	}
	return p.parseTracks(text)
}

// complete sends one messages request and returns the first text block.
// 5xx and rate limiting are transient; other non-200s carry the body.
func (p *Planner) complete(ctx context.Context, system, prompt string, maxTokens int, temp float64) (string, error) {
	reqBody := messagesRequest{
		Model:       p.model,
		MaxTokens:   maxTokens,
		System:      system,
		Temperature: temp,
		Messages:    []message{{Role: "user", Content: prompt}},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("planner: encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("planner: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("planner: calling model: %v: %w", err, apperror.ErrTransient)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return "", fmt.Errorf("planner: model returned status %d: %w", resp.StatusCode, apperror.ErrTransient)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("planner: model returned status %d: %s", resp.StatusCode, string(body))
	}

	var decoded messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("planner: decoding response: %w", err)
	}
	if len(decoded.Content) == 0 {
		return "", fmt.Errorf("planner: model returned empty content")
	}
	return decoded.Content[0].Text, nil
}

var fencedJSON = regexp.MustCompile("(?s)^```(?:json)?\\s*(.*?)```$")

// parseTracks validates the strict-JSON contract with the model.
func (p *Planner) parseTracks(raw string) ([]PlannedTrack, error) {
	text := strings.TrimSpace(raw)
	if m := fencedJSON.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}

	var payload struct {
		Tracks []PlannedTrack `json:"tracks"`
	}
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return nil, fmt.Errorf("planner: response was not valid JSON: %w", err)
	}

	tracks := make([]PlannedTrack, 0, p.trackCount)
	for _, t := range payload.Tracks {
		title := strings.TrimSpace(t.Title)
		artist := strings.TrimSpace(t.Artist)
		if title == "" || artist == "" {
			continue
		}
		tracks = append(tracks, PlannedTrack{Title: title, Artist: artist})
		if len(tracks) == p.trackCount {
			break
		}
	}

	if len(tracks) < p.trackCount {
		return nil, fmt.Errorf("planner: model returned %d usable tracks, wanted %d", len(tracks), p.trackCount)
	}
	return tracks, nil
}
