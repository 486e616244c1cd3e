package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const defaultOllamaURL = "http://localhost:11434"

const ollamaSystemPrompt = `You label market snapshots for a trading agent.
Reply with a JSON object that maps each of the labels %s to a probability.
The probabilities must sum to 1. Reply with the JSON object only.`

type OllamaConfig struct {
	ID       string
	BaseURL  string
	Model    string
	Features []string
	Classes  []Label
	Timeout  time.Duration
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Format   string          `json:"format,omitempty"`
	Options  map[string]any  `json:"options,omitempty"`
	Stream   bool            `json:"stream"`
}

// OllamaClassifier asks a chat model served by Ollama for class scores.
type OllamaClassifier struct {
	id       string
	baseURL  string
	model    string
	features []string
	classes  []Label
	client   *http.Client
	logger   *slog.Logger
}

func NewOllama(cfg OllamaConfig, logger *slog.Logger) (*OllamaClassifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: no model configured", ErrUnavailable)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOllamaURL
	}
	if len(cfg.Classes) == 0 {
		cfg.Classes = DefaultClasses
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &OllamaClassifier{
		id:       cfg.ID,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		model:    cfg.Model,
		features: cfg.Features,
		classes:  cfg.Classes,
		client:   &http.Client{Timeout: cfg.Timeout},
		logger:   logger,
	}, nil
}

func (c *OllamaClassifier) Predict(ctx context.Context, features map[string]float64, opts PredictOptions) (Prediction, error) {
	prompt, err := c.prompt(features, opts.FormatData)
	if err != nil {
		return Prediction{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	labels := make([]string, len(c.classes))
	for i, class := range c.classes {
		labels[i] = string(class)
	}

	body, err := json.Marshal(ollamaChatRequest{
		Model: c.model,
		Messages: []ollamaMessage{
			{Role: "system", Content: fmt.Sprintf(ollamaSystemPrompt, strings.Join(labels, ", "))},
			{Role: "user", Content: prompt},
		},
		Format:  "json",
		Options: map[string]any{"temperature": 0},
	})
	if err != nil {
		return Prediction{}, fmt.Errorf("%w: marshal request: %v", ErrUnavailable, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return Prediction{}, fmt.Errorf("%w: create request: %v", ErrUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Prediction{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Prediction{}, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return Prediction{}, fmt.Errorf("%w: ollama error %d: %s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	content := gjson.GetBytes(raw, "message.content").String()
	if !gjson.Valid(content) {
		return Prediction{}, fmt.Errorf("%w: model reply is not json: %q", ErrUnavailable, content)
	}
	reply := gjson.Parse(content)
	scores := make([]float32, len(c.classes))
	var total float32
	for i, class := range c.classes {
		scores[i] = float32(replyScore(reply, class))
		total += scores[i]
	}
	if total <= 0 {
		return Prediction{}, fmt.Errorf("%w: model reply has no label scores: %q", ErrUnavailable, content)
	}
	if !opts.UnwrapPrediction {
		return Prediction{Scores: scores}, nil
	}
	prediction, err := Unwrap(scores, c.classes)
	if err != nil {
		return Prediction{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	prediction.Scores = scores
	c.logger.Debug("ollama prediction", "classifier_id", c.id, "model", c.model, "label", prediction.Label, "confidence", prediction.Confidence)
	return prediction, nil
}

// prompt lists the features one per line, in model order when formatted.
func (c *OllamaClassifier) prompt(features map[string]float64, formatted bool) (string, error) {
	names := c.features
	if !formatted || len(names) == 0 {
		names = make([]string, 0, len(features))
		for name := range features {
			names = append(names, name)
		}
		sort.Strings(names)
	}
	var b strings.Builder
	for _, name := range names {
		v, ok := features[name]
		if !ok {
			return "", fmt.Errorf("feature %q missing", name)
		}
		fmt.Fprintf(&b, "%s: %g\n", name, v)
	}
	return b.String(), nil
}

// replyScore accepts label keys in any case.
func replyScore(reply gjson.Result, class Label) float64 {
	var score float64
	reply.ForEach(func(key, value gjson.Result) bool {
		if strings.EqualFold(key.String(), string(class)) {
			score = value.Float()
			return false
		}
		return true
	})
	return score
}
