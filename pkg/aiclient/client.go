package aiclient

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/smart-medical/diagnosis-server/internal/domain"
)

// ErrUnavailable is returned when the circuit breaker rejects a call.
var ErrUnavailable = errors.New("text generation service unavailable")

// Client calls an OpenAI-compatible chat completion endpoint. Calls pass a
// rate limiter and a circuit breaker; image analyses are memoized in a
// small in-process LRU since the same uploaded image is often re-analyzed
// during review.
type Client struct {
	cfg        domain.AIConfig
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	limiter    *rate.Limiter
	imageCache *lru.Cache[string, string]
	log        *logrus.Logger
}

// NewClient creates a new generation client
func NewClient(cfg domain.AIConfig, logger *logrus.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("ai base url is required")
	}

	cacheSize := cfg.ImageCacheSize
	if cacheSize <= 0 {
		cacheSize = 128
	}
	imageCache, err := lru.New[string, string](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating image analysis cache: %w", err)
	}

	maxRequests := cfg.BreakerMaxRequests
	if maxRequests == 0 {
		maxRequests = 5
	}
	interval := cfg.BreakerInterval
	if interval == 0 {
		interval = 30 * time.Second
	}
	breakerTimeout := cfg.BreakerTimeout
	if breakerTimeout == 0 {
		breakerTimeout = 60 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "TextGeneration",
		MaxRequests: maxRequests,
		Interval:    interval,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})

	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Inf
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}

	genTimeout := cfg.GenerationTimeout
	if genTimeout == 0 {
		genTimeout = 120 * time.Second
	}
	cfg.GenerationTimeout = genTimeout

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: genTimeout},
		breaker:    breaker,
		limiter:    rate.NewLimiter(limit, burst),
		imageCache: imageCache,
		log:        logger,
	}, nil
}

type chatMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type imagePart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL *struct {
		URL string `json:"url"`
	} `json:"image_url,omitempty"`
}

// GenerateText runs one text completion. The configured generation
// timeout applies per call; a timeout surfaces as a wrapped
// context.DeadlineExceeded so callers can classify it apart from
// application errors.
func (c *Client) GenerateText(ctx context.Context, prompt string) (string, error) {
	return c.complete(ctx, []chatMessage{
		{Role: "user", Content: prompt},
	})
}

// AnalyzeImage runs an image-grounded completion, memoized per
// (prompt, image) pair.
func (c *Client) AnalyzeImage(ctx context.Context, prompt, imageURL string) (string, error) {
	key := imageCacheKey(prompt, imageURL)
	if cached, ok := c.imageCache.Get(key); ok {
		c.log.WithField("image_url", imageURL).Debug("Image analysis cache hit")
		return cached, nil
	}

	url := &struct {
		URL string `json:"url"`
	}{URL: imageURL}

	result, err := c.complete(ctx, []chatMessage{
		{Role: "user", Content: []imagePart{
			{Type: "text", Text: prompt},
			{Type: "image_url", ImageURL: url},
		}},
	})
	if err != nil {
		return "", err
	}

	c.imageCache.Add(key, result)
	return result, nil
}

func (c *Client) complete(ctx context.Context, messages []chatMessage) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.GenerationTimeout)
	defer cancel()

	if err := c.limiter.Wait(callCtx); err != nil {
		return "", fmt.Errorf("waiting for rate limiter: %w", err)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.doRequest(callCtx, messages)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", fmt.Errorf("completion rejected: %w", ErrUnavailable)
		}
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("completion timed out: %w", context.DeadlineExceeded)
		}
		return "", err
	}

	return result.(string), nil
}

func (c *Client) doRequest(ctx context.Context, messages []chatMessage) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:    c.cfg.Model,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("encoding completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling completion endpoint: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading completion response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("completion endpoint returned status %d", resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return "", fmt.Errorf("decoding completion response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("completion endpoint error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("completion response has no choices")
	}

	c.log.WithFields(logrus.Fields{
		"model":      c.cfg.Model,
		"elapsed_ms": time.Since(start).Milliseconds(),
	}).Debug("Completion call finished")

	return parsed.Choices[0].Message.Content, nil
}

func imageCacheKey(prompt, imageURL string) string {
	sum := sha256.Sum256([]byte(prompt + "\x00" + imageURL))
	return hex.EncodeToString(sum[:])
}
