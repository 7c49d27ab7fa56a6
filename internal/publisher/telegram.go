package publisher

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"tablesnap/internal/logging"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// DefaultTelegramAPIURL is the Bot API endpoint.
	DefaultTelegramAPIURL = "https://api.telegram.org"
	// MaxMessageLength is the Bot API limit on message text, in characters.
	MaxMessageLength = 4096
)

// TelegramOptions configures a TelegramSink.
type TelegramOptions struct {
	BaseURL   string
	BotToken  string
	ChatID    string
	ParseMode string // "" or "HTML"
	// Interval is the minimum gap between messages to the chat.
	Interval time.Duration
	// MaxRetryWait caps a server-requested backoff before the single retry.
	MaxRetryWait time.Duration
	Timeout      time.Duration
}

// TelegramSink posts the run's report text to a chat. Long reports are
// split into several messages.
type TelegramSink struct {
	client  *resty.Client
	limiter *rate.Limiter
	opts    TelegramOptions
	logger  *logging.Logger
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type botResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
	Result struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
}

// NewTelegramSink creates a chat sink.
func NewTelegramSink(opts TelegramOptions, logger *logging.Logger) *TelegramSink {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultTelegramAPIURL
	}
	if opts.Interval == 0 {
		opts.Interval = time.Second
	}
	if opts.MaxRetryWait == 0 {
		opts.MaxRetryWait = 30 * time.Second
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}

	client := resty.New()
	client.SetBaseURL(strings.TrimRight(opts.BaseURL, "/"))
	client.SetTimeout(opts.Timeout)

	return &TelegramSink{
		client:  client,
		limiter: rate.NewLimiter(rate.Every(opts.Interval), 1),
		opts:    opts,
		logger:  logger.Named("telegram"),
	}
}

func (s *TelegramSink) Name() string { return "telegram" }

// Publish sends t.Text. The local file is not attached.
func (s *TelegramSink) Publish(ctx context.Context, _ string, t Target) (Receipt, error) {
	if strings.TrimSpace(t.Text) == "" {
		return Receipt{}, &Error{Sink: s.Name(), Kind: KindConfig, Err: errors.New("empty message text")}
	}

	chunks := SplitMessage(t.Text, MaxMessageLength)
	var last int64
	for i, chunk := range chunks {
		id, err := s.sendWithRetry(ctx, chunk)
		if err != nil {
			s.logger.Warn("message not delivered",
				zap.Int("part", i+1),
				zap.Int("parts", len(chunks)),
				zap.Error(err))
			return Receipt{}, err
		}
		last = id
	}

	s.logger.Info("posted report", zap.Int("parts", len(chunks)))
	return Receipt{
		Sink:     s.Name(),
		Location: "chat " + s.opts.ChatID,
		Revision: strconv.FormatInt(last, 10),
	}, nil
}

// Send posts text as-is, split if needed. It is used for failure
// notifications outside the normal fan-out.
func (s *TelegramSink) Send(ctx context.Context, text string) error {
	_, err := s.Publish(ctx, "", Target{Text: text})
	return err
}

func (s *TelegramSink) sendWithRetry(ctx context.Context, text string) (int64, error) {
	id, err := s.send(ctx, text)
	if err == nil || !IsRetryable(err) {
		return id, err
	}

	wait := time.Second
	var pe *Error
	if errors.As(err, &pe) && pe.RetryAfter > 0 {
		wait = pe.RetryAfter
	}
	if wait > s.opts.MaxRetryWait {
		return 0, err
	}

	s.logger.Debug("retrying message", zap.Duration("wait", wait), zap.Error(err))
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return 0, &Error{Sink: s.Name(), Kind: KindTransport, Err: ctx.Err()}
	case <-timer.C:
	}
	return s.send(ctx, text)
}

func (s *TelegramSink) send(ctx context.Context, text string) (int64, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return 0, &Error{Sink: s.Name(), Kind: KindTransport, Err: err}
	}

	if s.opts.ParseMode == "HTML" {
		text = "<pre>" + html.EscapeString(text) + "</pre>"
	}

	var body botResponse
	res, err := s.client.R().
		SetContext(ctx).
		SetBody(sendMessageRequest{
			ChatID:                s.opts.ChatID,
			Text:                  text,
			ParseMode:             s.opts.ParseMode,
			DisableWebPagePreview: true,
		}).
		SetResult(&body).
		SetError(&body).
		Post("/bot" + s.opts.BotToken + "/sendMessage")
	if err != nil {
		// The request URL embeds the bot token.
		msg := strings.ReplaceAll(err.Error(), s.opts.BotToken, "***")
		return 0, &Error{Sink: s.Name(), Kind: KindTransport, Err: errors.New(msg)}
	}

	if res.IsError() || !body.OK {
		return 0, s.botError(res.StatusCode(), body)
	}
	return body.Result.MessageID, nil
}

func (s *TelegramSink) botError(status int, body botResponse) *Error {
	e := &Error{Sink: s.Name(), StatusCode: status, Err: errors.New(body.Description)}
	if body.Description == "" {
		e.Err = fmt.Errorf("request rejected")
	}
	switch {
	case status == 429:
		e.Kind = KindQuotaOrRate
		e.RetryAfter = time.Duration(body.Parameters.RetryAfter) * time.Second
	case status == 401, status == 403, status == 404:
		e.Kind = KindAuth
	case status >= 500:
		e.Kind = KindTransport
	default:
		e.Kind = KindConfig
	}
	return e
}

// SplitMessage splits text into chunks of at most max characters, breaking
// on line boundaries where possible. Lines longer than max are cut.
func SplitMessage(text string, max int) []string {
	if text == "" {
		return nil
	}
	if utf8.RuneCountInString(text) <= max {
		return []string{text}
	}

	var chunks []string
	var cur strings.Builder
	curLen := 0
	flush := func() {
		if curLen > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
			curLen = 0
		}
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		n := utf8.RuneCountInString(line)
		if curLen+n <= max {
			cur.WriteString(line)
			curLen += n
			continue
		}
		flush()
		for n > max {
			runes := []rune(line)
			chunks = append(chunks, string(runes[:max]))
			line = string(runes[max:])
			n -= max
		}
		cur.WriteString(line)
		curLen = n
	}
	flush()
	return chunks
}
