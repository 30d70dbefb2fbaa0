package openrouter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karwadev/bannerbot/internal/config"
	"github.com/karwadev/bannerbot/internal/models"
)

func testClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	return NewClient(config.Config{
		OpenRouterAPIKey:  "test-key",
		OpenRouterBaseURL: baseURL,
		OpenRouterModel:   "test-model",
		RequestTimeout:    5 * time.Second,
	}, slog.Default())
}

func samplePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func completionResponse(imageRef string) map[string]any {
	return map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{
				"images": []map[string]any{
					{"image_url": map[string]string{"url": imageRef}},
				},
			}},
		},
	}
}

func TestGenerateDecodesDataURL(t *testing.T) {
	want := samplePNG(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var payload struct {
			Model       string `json:"model"`
			ImageConfig struct {
				AspectRatio string `json:"aspect_ratio"`
			} `json:"image_config"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "test-model", payload.Model)
		assert.Equal(t, "21:9", payload.ImageConfig.AspectRatio)

		ref := "data:image/png;base64," + base64.StdEncoding.EncodeToString(want)
		json.NewEncoder(w).Encode(completionResponse(ref))
	}))
	defer srv.Close()

	got, err := testClient(t, srv.URL).Generate(context.Background(), models.ModeGenerate, "a skyline", nil, models.TargetBanner)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestGenerateDownloadsHostedURL(t *testing.T) {
	want := samplePNG(t)
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/hosted.png", func(w http.ResponseWriter, r *http.Request) {
		w.Write(want)
	})
	mux.HandleFunc("/api/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(completionResponse(srv.URL + "/hosted.png"))
	})

	got, err := testClient(t, srv.URL).Generate(context.Background(), models.ModeGenerate, "a skyline", nil, models.TargetProfile)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestGenerateErrorStatuses(t *testing.T) {
	for _, tc := range []struct {
		status int
		want   string
	}{
		{http.StatusPaymentRequired, "insufficient credits"},
		{http.StatusTooManyRequests, "rate limit exceeded"},
		{http.StatusInternalServerError, "status=500"},
	} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			fmt.Fprint(w, "{}")
		}))
		_, err := testClient(t, srv.URL).Generate(context.Background(), models.ModeGenerate, "x", nil, models.TargetBanner)
		srv.Close()
		require.Error(t, err)
		assert.Contains(t, err.Error(), tc.want)
	}
}

func TestGenerateEnhanceRequiresReference(t *testing.T) {
	_, err := testClient(t, "http://unused").Generate(context.Background(), models.ModeEnhance, "extend", nil, models.TargetBanner)
	assert.Error(t, err)
}

func TestGenerateASCIIRendersLocally(t *testing.T) {
	// No server at all: ascii mode must not touch the network.
	c := testClient(t, "http://127.0.0.1:0")

	out, err := c.Generate(context.Background(), models.ModeASCII, "HELLO", nil, models.TargetBanner)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 1500, img.Bounds().Dx())
	assert.Equal(t, 500, img.Bounds().Dy())
}

func TestRenderASCIIProfileTarget(t *testing.T) {
	out, err := renderASCII("gm\nworld", models.TargetProfile)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 1000, img.Bounds().Dx())
	assert.Equal(t, 1000, img.Bounds().Dy())
}

func TestRenderASCIIEmptyText(t *testing.T) {
	_, err := renderASCII("   ", models.TargetBanner)
	assert.Error(t, err)
}
