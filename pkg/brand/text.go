package brand

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/unicode/norm"

	"github.com/lureguard/lureguard/pkg/config"
	"github.com/lureguard/lureguard/pkg/httputil"
)

// maxPageText bounds the cleaned page text sent to the model. Phishing pages
// put the brand name in the title or first screen, so 1000 chars is enough.
const maxPageText = 1000

const extractorTemperature = 0.1

const extractorSystemPrompt = `You are a brand identification assistant. You are given cleaned text from a web page.
Identify the single brand or company the page presents itself as (the brand a visitor would believe they are interacting with).

Rules:
- Answer with the brand name only, e.g. "PayPal" or "Naver".
- Use the brand's canonical English name when one exists.
- If the page does not impersonate or present any identifiable brand, answer exactly "None".
- Never explain your answer.`

// TextExtractor asks an LLM which brand a page's text presents itself as.
type TextExtractor struct {
	client   *http.Client
	provider config.LLMProvider
	baseURL  string
	apiKey   string
	model    string
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
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

// NewTextExtractor builds an extractor for the configured provider.
// All providers speak the OpenAI chat completions dialect.
func NewTextExtractor(cfg *config.Config) *TextExtractor {
	baseURL := cfg.LLMBaseURL
	if baseURL == "" {
		switch cfg.LLMProvider {
		case config.ProviderOllama:
			baseURL = "http://localhost:11434/v1"
		case config.ProviderGroq:
			baseURL = "https://api.groq.com/openai/v1"
		case config.ProviderOpenAI:
			baseURL = "https://api.openai.com/v1"
		default:
			baseURL = "https://openrouter.ai/api/v1"
		}
	}
	model := cfg.LLMModel
	if model == "" {
		if cfg.LLMProvider == config.ProviderOllama {
			model = "qwen2.5:7b"
		} else {
			model = "meta-llama/llama-3.3-70b-instruct:free"
		}
	}
	return &TextExtractor{
		client:   httputil.SlowClient(),
		provider: cfg.LLMProvider,
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   cfg.LLMAPIKey,
		model:    model,
	}
}

// Extract returns the brand the page text presents itself as, or "" when the
// model finds none. The page URL is included as context: legitimate pages
// often carry the brand in the host itself.
func (t *TextExtractor) Extract(ctx context.Context, html, pageURL string) (string, error) {
	if t.provider != config.ProviderOllama && t.apiKey == "" {
		return "", fmt.Errorf("API key not configured for provider %s", t.provider)
	}

	text := CleanHTML(html)
	if text == "" {
		return "", nil
	}

	userContent := fmt.Sprintf("URL: %s\n\nPAGE TEXT:\n%s", pageURL, text)
	reqBody := chatRequest{
		Model: t.model,
		Messages: []chatMessage{
			{Role: "system", Content: extractorSystemPrompt},
			{Role: "user", Content: userContent},
		},
		Temperature: extractorTemperature,
	}

	answer, err := t.callLLM(ctx, reqBody)
	if err != nil {
		return "", err
	}
	return ParseBrandAnswer(answer), nil
}

func (t *TextExtractor) callLLM(ctx context.Context, reqBody chatRequest) (string, error) {
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm request failed: %w", err)
	}
	defer httputil.DrainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		body, _ := httputil.ReadErrorBody(resp.Body)
		return "", fmt.Errorf("llm returned %d: %s", resp.StatusCode, string(body))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("llm returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// ParseBrandAnswer normalizes the model's answer to a bare brand name.
// "None" (any casing), empty, and obviously hedged answers map to "".
func ParseBrandAnswer(answer string) string {
	brand := strings.TrimSpace(answer)
	brand = strings.Trim(brand, `"'.`)
	if brand == "" {
		return ""
	}
	lower := strings.ToLower(brand)
	if lower == "none" || lower == "unknown" || lower == "n/a" {
		return ""
	}
	// A paragraph is a refusal or an explanation, not a brand name.
	if len(brand) > 100 || strings.ContainsAny(brand, "\n") {
		return ""
	}
	return brand
}

// CleanHTML reduces a page to the text a model needs for brand
// identification: title, meta description, and the leading body text, with
// script/style/noscript/iframe content removed. Output is NFKC-normalized
// so full-width and compatibility characters compare like their plain forms.
func CleanHTML(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return truncateText(norm.NFKC.String(html))
	}

	doc.Find("script, style, noscript, iframe").Remove()

	var parts []string
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		parts = append(parts, "TITLE: "+title)
	}
	if desc, ok := doc.Find(`meta[name="description"]`).First().Attr("content"); ok {
		if desc = strings.TrimSpace(desc); desc != "" {
			parts = append(parts, "DESCRIPTION: "+desc)
		}
	}
	body := strings.Join(strings.Fields(doc.Find("body").Text()), " ")
	if body != "" {
		parts = append(parts, body)
	}

	return truncateText(norm.NFKC.String(strings.Join(parts, "\n")))
}

func truncateText(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxPageText {
		return s
	}
	// Cut on a rune boundary.
	cut := maxPageText
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
