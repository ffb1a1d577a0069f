package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"adpilot/contexts/ad-automation/automation-engine/adapters/restclient"
	"adpilot/contexts/ad-automation/automation-engine/domain/entities"
	domainerrors "adpilot/contexts/ad-automation/automation-engine/domain/errors"
	"adpilot/contexts/ad-automation/automation-engine/ports"
)

type Config struct {
	BaseURL     string
	APIKeys     []string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// Client asks a chat-completion model whether search terms fit a product.
// Each call is authenticated with the credential the caller picked from the
// pool. Retries belong to the caller.
type Client struct {
	cfg    Config
	caller *restclient.Caller
}

func New(cfg Config, metrics ports.Metrics, logger *slog.Logger) *Client {
	keys := make([]string, 0, len(cfg.APIKeys))
	for _, key := range cfg.APIKeys {
		if key = strings.TrimSpace(key); key != "" {
			keys = append(keys, key)
		}
	}
	cfg.APIKeys = keys
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	return &Client{
		cfg: cfg,
		caller: restclient.New(restclient.Options{
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout,
			Metrics: metrics,
			Logger:  logger,
		}),
	}
}

func (c *Client) Credentials() []string {
	return append([]string(nil), c.cfg.APIKeys...)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *Client) complete(ctx context.Context, operation, credential, system, prompt string) (string, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+credential)

	var resp chatResponse
	err := c.caller.Do(ctx, restclient.Request{
		Operation: operation,
		Method:    http.MethodPost,
		Path:      "/v1/chat/completions",
		Header:    header,
		Body: chatRequest{
			Model: c.cfg.Model,
			Messages: []chatMessage{
				{Role: "system", Content: system},
				{Role: "user", Content: prompt},
			},
			MaxTokens:   c.cfg.MaxTokens,
			Temperature: c.cfg.Temperature,
		},
	}, &resp)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", &domainerrors.APIError{Operation: operation, Status: http.StatusBadGateway, Code: "EMPTY_COMPLETION", Message: "no choices returned"}
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

const systemPrompt = "You review search terms for an online advertiser. " +
	"A term is relevant when a shopper typing it could plausibly want the product described."

func describe(product ports.ProductDetails) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Product %s: %s\n", product.ASIN, product.Title)
	for _, bullet := range product.Bullets {
		fmt.Fprintf(&b, "- %s\n", bullet)
	}
	return b.String()
}

// ClassifyTerm answers a single YES/NO question.
func (c *Client) ClassifyTerm(ctx context.Context, credential string, product ports.ProductDetails, term string) (bool, error) {
	prompt := describe(product) + "\nSearch term: " + term + "\nIs this search term relevant? Answer YES or NO only."
	answer, err := c.complete(ctx, "classifier.term", credential, systemPrompt, prompt)
	if err != nil {
		return false, err
	}
	return parseYesNo(answer)
}

func parseYesNo(answer string) (bool, error) {
	word := strings.ToUpper(strings.Trim(strings.TrimSpace(answer), ".!\"'`*"))
	if fields := strings.Fields(word); len(fields) > 0 {
		word = strings.Trim(fields[0], ".,!:;\"'`*")
	}
	switch word {
	case "YES":
		return true, nil
	case "NO":
		return false, nil
	default:
		return false, fmt.Errorf("classifier answer %q: %w", answer, domainerrors.ErrValidation)
	}
}

type batchVerdict struct {
	Term     string `json:"term"`
	Relevant *bool  `json:"relevant"`
}

type batchAnswer struct {
	Results []batchVerdict `json:"results"`
}

// ClassifyBatch returns normalized term -> relevant. Terms the model left
// out are absent from the map.
func (c *Client) ClassifyBatch(ctx context.Context, credential string, product ports.ProductDetails, terms []string) (map[string]bool, error) {
	var b strings.Builder
	b.WriteString(describe(product))
	b.WriteString("\nSearch terms:\n")
	for i, term := range terms {
		fmt.Fprintf(&b, "%d. %s\n", i+1, term)
	}
	b.WriteString("\nReply with JSON only: " + `{"results":[{"term":"<term>","relevant":true|false}]}`)

	answer, err := c.complete(ctx, "classifier.batch", credential, systemPrompt, b.String())
	if err != nil {
		return nil, err
	}
	return parseBatch(answer)
}

func parseBatch(answer string) (map[string]bool, error) {
	start := strings.Index(answer, "{")
	end := strings.LastIndex(answer, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("classifier batch answer has no json object: %w", domainerrors.ErrValidation)
	}
	var parsed batchAnswer
	if err := json.Unmarshal([]byte(answer[start:end+1]), &parsed); err != nil {
		return nil, fmt.Errorf("classifier batch answer: %w: %v", domainerrors.ErrValidation, err)
	}
	out := make(map[string]bool, len(parsed.Results))
	for _, v := range parsed.Results {
		key := entities.NormalizeTerm(v.Term)
		if key == "" || v.Relevant == nil {
			continue
		}
		out[key] = *v.Relevant
	}
	return out, nil
}

var _ ports.Classifier = (*Client)(nil)
