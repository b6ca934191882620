// Package telegram sends pipeline notifications to a Telegram chat.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fgeck/gomongo-backup/internal/models"
	"github.com/rs/zerolog"
)

// Service defines the interface for Telegram notification operations.
type Service interface {
	SendNotification(ctx context.Context, cfg models.TelegramConfig, n models.Notification) (*models.TelegramResult, error)
}

// HTTPClient allows mocking HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Impl implements the Telegram Service interface.
type Impl struct {
	httpClient HTTPClient
	logger     zerolog.Logger
	baseURL    string
}

// New creates a new Telegram service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:  logger,
		baseURL: "https://api.telegram.org",
	}
}

// NewWithClient creates a new Telegram service with a custom HTTP client (for testing).
func NewWithClient(logger zerolog.Logger, httpClient HTTPClient, baseURL string) *Impl {
	return &Impl{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    baseURL,
	}
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// SendNotification sends a pipeline notification via Telegram.
// Delivery failures are reported in the result, never as an error.
//
//nolint:nilerr // errors are carried in TelegramResult
func (s *Impl) SendNotification(ctx context.Context, cfg models.TelegramConfig, n models.Notification) (*models.TelegramResult, error) {
	result := &models.TelegramResult{}

	s.logger.Info().
		Str("chat_id", cfg.ChatID).
		Str("operation", n.Operation).
		Bool("success", n.Success).
		Msg("sending Telegram notification")

	jsonBody, err := json.Marshal(sendMessageRequest{
		ChatID:    cfg.ChatID,
		Text:      formatMessage(n),
		ParseMode: "HTML",
	})
	if err != nil {
		result.Error = fmt.Errorf("failed to marshal request: %w", err)
		return result, nil
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, cfg.BotToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		result.Error = fmt.Errorf("failed to create request: %w", err)
		return result, nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		result.Error = fmt.Errorf("failed to send request: %w", err)
		return result, nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		result.Error = fmt.Errorf("telegram API returned status %d%s", resp.StatusCode, describe(resp.Body))
		return result, nil
	}

	result.MessageSent = true
	s.logger.Info().Msg("Telegram notification sent successfully")

	return result, nil
}

// describe extracts the API error description, if the body carries one.
func describe(body io.Reader) string {
	var parsed apiResponse
	if err := json.NewDecoder(io.LimitReader(body, 64*1024)).Decode(&parsed); err != nil || parsed.Description == "" {
		return ""
	}
	return ": " + parsed.Description
}

func formatMessage(n models.Notification) string {
	var b strings.Builder

	title := titleCase(n.Operation)
	if n.Success {
		fmt.Fprintf(&b, "✅ <b>%s Successful</b>\n\n", title)
	} else {
		fmt.Fprintf(&b, "❌ <b>%s Failed</b>\n\n", title)
	}

	fmt.Fprintf(&b, "🖥 <b>Host:</b> %s\n", escapeHTML(n.Host))
	fmt.Fprintf(&b, "🗄 <b>Database:</b> %s\n", escapeHTML(n.Database))
	fmt.Fprintf(&b, "⏰ <b>Started:</b> %s\n", n.StartTime.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "⏱ <b>Duration:</b> %s\n", n.Duration.Round(time.Second))

	if n.Success {
		if n.ArtifactPath != "" {
			b.WriteString("\n<b>📦 Artifact:</b>\n")
			fmt.Fprintf(&b, "  • Path: <code>%s</code>\n", escapeHTML(n.ArtifactPath))
			if n.ArtifactBytes > 0 {
				fmt.Fprintf(&b, "  • Size: %s\n", humanize.IBytes(uint64(n.ArtifactBytes)))
			}
		}
		if n.RetentionDeleted > 0 {
			b.WriteString("\n<b>🗑 Retention:</b>\n")
			fmt.Fprintf(&b, "  • Old backups removed: %d\n", n.RetentionDeleted)
		}
	} else {
		b.WriteString("\n<b>⚠️ Error Details:</b>\n")
		fmt.Fprintf(&b, "  • Failed stage: %s\n", escapeHTML(n.FailedStage))
		fmt.Fprintf(&b, "  • Error: <code>%s</code>\n", escapeHTML(n.ErrorMessage))
	}

	return b.String()
}

func titleCase(s string) string {
	if s == "" {
		return "Operation"
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// escapeHTML escapes HTML special characters.
func escapeHTML(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		case '&':
			b.WriteString("&amp;")
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
