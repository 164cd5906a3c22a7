// Package banana wraps the Banana Pro image generation API.
package banana

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

	"eldergen-backend/internal/apperrors"
)

// Generation can take well over a minute; the provider recommends a
// generous client timeout.
const defaultTimeout = 120 * time.Second

const defaultModel = "stable-diffusion-xl"

// stylePrompts are appended to the user prompt to steer the output.
var stylePrompts = map[string]string{
	"realistic": "realistic photo, high quality, detailed, 8k",
	"anime":     "anime style, vibrant colors, detailed illustration",
	"sketch":    "pencil sketch, artistic, hand-drawn",
	"painting":  "oil painting style, classic art, masterpiece",
}

const negativePrompt = "ugly, blurry, low quality, distorted, deformed"

type Client struct {
	baseURL    string
	apiKey     string
	modelKey   string
	httpClient *http.Client
}

// Result is either inline bytes or a fetchable URL, depending on what
// the provider returned.
type Result struct {
	ImageBytes []byte
	ImageURL   string
}

type generateRequest struct {
	Model             string  `json:"model"`
	Prompt            string  `json:"prompt"`
	NegativePrompt    string  `json:"negative_prompt"`
	Width             int     `json:"width"`
	Height            int     `json:"height"`
	NumInferenceSteps int     `json:"num_inference_steps"`
	GuidanceScale     float64 `json:"guidance_scale"`
	InitImage         string  `json:"init_image,omitempty"`
	Strength          float64 `json:"strength,omitempty"`
}

type generateResponse struct {
	ImageURL    string `json:"image_url"`
	ImageBase64 string `json:"image_base64"`
}

func NewClient(baseURL, apiKey, modelKey string) *Client {
	return &Client{
		baseURL:  baseURL,
		apiKey:   apiKey,
		modelKey: modelKey,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// Generate renders an image for the style-augmented prompt. With a
// source image URL the call runs image-to-image at the given strength
// (0 < strength <= 1). Failures are classified, never interpreted:
// retry policy belongs to the caller.
func (c *Client) Generate(ctx context.Context, prompt, sourceImageURL string, strength float64) (*Result, error) {
	payload := c.buildRequest(prompt, sourceImageURL, "realistic", strength)

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimSuffix(c.baseURL, "/") + "/generate"
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &apperrors.UpstreamError{Kind: apperrors.UpstreamUnavailable, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &apperrors.UpstreamError{Kind: apperrors.UpstreamUnavailable, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &apperrors.UpstreamError{
			Kind:       apperrors.UpstreamRejected,
			StatusCode: resp.StatusCode,
			Body:       string(body),
		}
	}

	var result generateResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &apperrors.UpstreamError{
			Kind:       apperrors.UpstreamRejected,
			StatusCode: resp.StatusCode,
			Body:       string(body),
			Err:        err,
		}
	}

	switch {
	case result.ImageURL != "":
		return &Result{ImageURL: result.ImageURL}, nil
	case result.ImageBase64 != "":
		data, err := base64.StdEncoding.DecodeString(result.ImageBase64)
		if err != nil {
			return nil, &apperrors.UpstreamError{
				Kind:       apperrors.UpstreamRejected,
				StatusCode: resp.StatusCode,
				Body:       "invalid image_base64 payload",
				Err:        err,
			}
		}
		return &Result{ImageBytes: data}, nil
	default:
		return nil, &apperrors.UpstreamError{
			Kind:       apperrors.UpstreamRejected,
			StatusCode: resp.StatusCode,
			Body:       string(body),
		}
	}
}

func (c *Client) buildRequest(prompt, sourceImageURL, style string, strength float64) generateRequest {
	stylePrompt, ok := stylePrompts[style]
	if !ok {
		stylePrompt = stylePrompts["realistic"]
	}

	model := c.modelKey
	if model == "" {
		model = defaultModel
	}

	req := generateRequest{
		Model:             model,
		Prompt:            prompt + ", " + stylePrompt,
		NegativePrompt:    negativePrompt,
		Width:             1024,
		Height:            1024,
		NumInferenceSteps: 30,
		GuidanceScale:     7.5,
	}

	if sourceImageURL != "" {
		req.InitImage = sourceImageURL
		if strength <= 0 || strength > 1 {
			strength = 0.6
		}
		req.Strength = strength
	}

	return req
}
