package openrouter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/karwadev/bannerbot/internal/config"
	"github.com/karwadev/bannerbot/internal/models"
)

// Client talks to the OpenRouter chat-completions endpoint with image
// modality. ASCII mode never leaves the process; it renders locally.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	log        *slog.Logger
}

func NewClient(cfg config.Config, log *slog.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		apiKey:  cfg.OpenRouterAPIKey,
		baseURL: strings.TrimRight(cfg.OpenRouterBaseURL, "/"),
		model:   cfg.OpenRouterModel,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

// Generate produces raw image bytes for the given mode. reference carries the
// uploaded source image for enhance mode and is ignored otherwise.
func (c *Client) Generate(ctx context.Context, mode models.Mode, prompt string, reference []byte, target models.AspectTarget) ([]byte, error) {
	switch mode {
	case models.ModeASCII:
		return renderASCII(prompt, target)
	case models.ModeEnhance:
		if len(reference) == 0 {
			return nil, fmt.Errorf("enhance mode requires a reference image")
		}
		return c.complete(ctx, enhancePrompt(prompt, target), reference, target)
	case models.ModeGenerate:
		return c.complete(ctx, generatePrompt(prompt, target), nil, target)
	default:
		return nil, fmt.Errorf("unsupported mode: %s", mode)
	}
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

func (c *Client) complete(ctx context.Context, prompt string, reference []byte, target models.AspectTarget) ([]byte, error) {
	parts := []contentPart{}
	if len(reference) > 0 {
		parts = append(parts, contentPart{
			Type:     "image_url",
			ImageURL: &imageURL{URL: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(reference)},
		})
	}
	parts = append(parts, contentPart{Type: "text", Text: prompt})

	// The model only understands a coarse set of ratios; 21:9 is the closest
	// it offers to 3:1 and the corrector closes the gap afterwards.
	apiRatio := "1:1"
	if target == models.TargetBanner {
		apiRatio = "21:9"
	}

	payload := map[string]any{
		"model": c.model,
		"messages": []map[string]any{
			{"role": "user", "content": parts},
		},
		"modalities": []string{"image", "text"},
		"image_config": map[string]any{
			"aspect_ratio": apiRatio,
		},
		"max_tokens":  8192,
		"temperature": 0.7,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	fullURL := c.baseURL + "/api/v1/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post openrouter: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusPaymentRequired:
		return nil, fmt.Errorf("openrouter: insufficient credits")
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("openrouter: rate limit exceeded")
	case resp.StatusCode >= 300:
		c.log.Error("openrouter request failed", "status", resp.StatusCode, "body", truncateBody(rawBody))
		return nil, fmt.Errorf("openrouter: status=%d body=%s", resp.StatusCode, truncateBody(rawBody))
	}

	var completion struct {
		Choices []struct {
			Message struct {
				Images []struct {
					ImageURL imageURL `json:"image_url"`
				} `json:"images"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(rawBody, &completion); err != nil {
		return nil, fmt.Errorf("decode completion: %w (body=%s)", err, truncateBody(rawBody))
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}
	images := completion.Choices[0].Message.Images
	if len(images) == 0 {
		return nil, fmt.Errorf("no images in response")
	}

	return c.resolveImage(ctx, images[0].ImageURL.URL)
}

// resolveImage handles both delivery forms: a base64 data URL inline in the
// response, or a hosted https URL to fetch.
func (c *Client) resolveImage(ctx context.Context, ref string) ([]byte, error) {
	if strings.HasPrefix(ref, "data:") {
		_, encoded, ok := strings.Cut(ref, ",")
		if !ok {
			return nil, fmt.Errorf("malformed data url")
		}
		data, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("decode image data: %w", err)
		}
		return data, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("new download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("download image: status=%d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image body")
	}
	return data, nil
}

func enhancePrompt(custom string, target models.AspectTarget) string {
	if custom != "" {
		return fmt.Sprintf(`Analyze the provided image and transform it to %s format based on this instruction: %s

Requirements:
- Maintain high quality and professional appearance
- Ensure seamless blending
- No text, lettering, watermarks, or labels unless specifically requested
- Output: High quality %s image`, target, custom, target)
	}
	return fmt.Sprintf(`Analyze the provided image and extend it to %s format.

IF the image contains a logo, icon, or graphic element:
- Extend using a plain colored background matching the original background color
- Keep the main element centered and properly scaled
- NO text, lettering, watermarks, or labels

IF the image is a photograph or scene:
- Extend naturally maintaining the same artistic style, lighting and color grading
- Keep the original composition and subject matter intact and recognizable
- Ensure seamless blending with no visible seams
- NO text, lettering, watermarks, or labels

This is an image editing task, not image generation. Output: High quality %s image`, target, target)
}

func generatePrompt(prompt string, target models.AspectTarget) string {
	return fmt.Sprintf(`Create a professional image based on this description: "%s"

Technical Requirements:
- Aspect ratio: %s EXACTLY
- High quality, professional appearance
- NO text, lettering, or watermarks unless explicitly requested in the description
- Clean composition with proper visual balance`, prompt, target)
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
