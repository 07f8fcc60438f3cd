// Package provider implements the mailbox and calendar adapters.
package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/mail"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"triage_server/core/domain"
	"triage_server/core/port/out"
)

const (
	gmailUser       = "me"
	labelUnread     = "UNREAD"
	defaultTimeout  = 30 * time.Second
	maxBodyDepth    = 10
	gmailProviderID = "gmail"
)

// =============================================================================
// Google credentials
// =============================================================================

// GoogleCredentials is a service mailbox authorised once with offline access.
type GoogleCredentials struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
}

func (c GoogleCredentials) tokenSource(scopes ...string) oauth2.TokenSource {
	cfg := &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       scopes,
	}
	// token refreshes must outlive the request that triggered them
	return cfg.TokenSource(context.Background(), &oauth2.Token{RefreshToken: c.RefreshToken})
}

// clientOptions builds google api options. A non-nil httpClient with an
// endpoint bypasses OAuth; tests point both at an httptest server.
func clientOptions(creds GoogleCredentials, endpoint string, httpClient *http.Client, scopes ...string) []option.ClientOption {
	if httpClient != nil {
		opts := []option.ClientOption{option.WithHTTPClient(httpClient)}
		if endpoint != "" {
			opts = append(opts, option.WithEndpoint(endpoint))
		}
		return opts
	}
	return []option.ClientOption{option.WithTokenSource(creds.tokenSource(scopes...))}
}

// =============================================================================
// Gmail Adapter
// =============================================================================

type GmailConfig struct {
	Credentials GoogleCredentials
	Endpoint    string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// GmailAdapter reads the support inbox and sends replies from it.
type GmailAdapter struct {
	cfg     GmailConfig
	cb      *gobreaker.CircuitBreaker
	mu      sync.RWMutex
	svc     *gmail.Service
	address string
	now     func() time.Time
	log     zerolog.Logger
}

func NewGmailAdapter(cfg GmailConfig, log zerolog.Logger) *GmailAdapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	log = log.With().Str("component", "gmail").Logger()

	settings := gobreaker.Settings{
		Name:        "gmail-api",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		IsSuccessful: isBreakerSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	}

	return &GmailAdapter{
		cfg: cfg,
		cb:  gobreaker.NewCircuitBreaker(settings),
		now: time.Now,
		log: log,
	}
}

func (a *GmailAdapter) Name() string {
	return gmailProviderID
}

// Connect builds the API client and checks the credentials with a profile call.
func (a *GmailAdapter) Connect(ctx context.Context) error {
	opts := clientOptions(a.cfg.Credentials, a.cfg.Endpoint, a.cfg.HTTPClient,
		gmail.GmailReadonlyScope, gmail.GmailSendScope, gmail.GmailModifyScope)

	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create gmail service: %w", err)
	}

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	profile, err := svc.Users.GetProfile(gmailUser).Context(ctx).Do()
	if err != nil {
		return a.wrapError(err, "failed to get profile")
	}

	a.mu.Lock()
	a.svc = svc
	a.address = profile.EmailAddress
	a.mu.Unlock()

	a.log.Info().Str("mailbox", profile.EmailAddress).Msg("gmail connected")
	return nil
}

// Address is the connected mailbox address.
func (a *GmailAdapter) Address() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.address
}

func (a *GmailAdapter) service() (*gmail.Service, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.svc == nil {
		return nil, out.NewProviderError(gmailProviderID, out.ProviderErrAuth, "not connected", nil, false)
	}
	return a.svc, nil
}

func (a *GmailAdapter) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, a.cfg.Timeout)
}

// =============================================================================
// Inbox
// =============================================================================

// ListUnseen lists unread inbox messages received within window, newest first.
func (a *GmailAdapter) ListUnseen(ctx context.Context, window time.Duration, max int) ([]domain.InboundMessage, error) {
	svc, err := a.service()
	if err != nil {
		return nil, err
	}
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	var list *gmail.ListMessagesResponse
	err = a.executeWithCircuitBreaker("ListUnseen", func() error {
		var apiErr error
		list, apiErr = svc.Users.Messages.List(gmailUser).
			Q(buildUnseenQuery(a.now(), window)).
			MaxResults(int64(max)).
			Context(ctx).
			Do()
		return apiErr
	})
	if err != nil {
		return nil, a.wrapError(err, "failed to list messages")
	}

	msgs := make([]domain.InboundMessage, 0, len(list.Messages))
	for _, ref := range list.Messages {
		m, err := a.fetch(ctx, svc, ref.Id)
		if err != nil {
			// one unreadable message must not hide the rest
			a.log.Warn().Err(err).Str("message_id", ref.Id).Msg("skipping message")
			continue
		}
		msgs = append(msgs, *m)
	}
	return msgs, nil
}

func (a *GmailAdapter) Get(ctx context.Context, id string) (*domain.InboundMessage, error) {
	svc, err := a.service()
	if err != nil {
		return nil, err
	}
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	return a.fetch(ctx, svc, id)
}

func (a *GmailAdapter) fetch(ctx context.Context, svc *gmail.Service, id string) (*domain.InboundMessage, error) {
	var msg *gmail.Message
	err := a.executeWithCircuitBreaker("Get", func() error {
		var apiErr error
		msg, apiErr = svc.Users.Messages.Get(gmailUser, id).Format("full").Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		return nil, a.wrapError(err, "failed to get message")
	}
	m := convertMessage(msg)
	return &m, nil
}

func (a *GmailAdapter) MarkRead(ctx context.Context, id string) error {
	svc, err := a.service()
	if err != nil {
		return err
	}
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	req := &gmail.ModifyMessageRequest{RemoveLabelIds: []string{labelUnread}}
	err = a.executeWithCircuitBreaker("MarkRead", func() error {
		_, apiErr := svc.Users.Messages.Modify(gmailUser, id, req).Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		return a.wrapError(err, "failed to modify labels")
	}
	return nil
}

// =============================================================================
// Outbox
// =============================================================================

func (a *GmailAdapter) Send(ctx context.Context, msg *out.OutgoingMessage) (*out.SendResult, error) {
	svc, err := a.service()
	if err != nil {
		return nil, err
	}
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	gmailMsg := &gmail.Message{
		Raw:      base64.URLEncoding.EncodeToString([]byte(buildRawMessage(a.Address(), msg))),
		ThreadId: msg.ThreadID,
	}

	var sent *gmail.Message
	err = a.executeWithCircuitBreaker("Send", func() error {
		var apiErr error
		sent, apiErr = svc.Users.Messages.Send(gmailUser, gmailMsg).Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		return nil, a.wrapError(err, "failed to send message")
	}

	return &out.SendResult{
		MessageID: sent.Id,
		ThreadID:  sent.ThreadId,
		SentAt:    a.now(),
	}, nil
}

// =============================================================================
// Circuit breaker
// =============================================================================

func (a *GmailAdapter) executeWithCircuitBreaker(operation string, fn func() error) error {
	_, err := a.cb.Execute(func() (interface{}, error) {
		if err := fn(); err != nil {
			var apiErr *googleapi.Error
			if errors.As(err, &apiErr) {
				switch apiErr.Code {
				case 400, 401, 403, 404:
					// client errors do not trip the breaker
					return nil, &nonCircuitError{err: err}
				}
			}
			return nil, err
		}
		return nil, nil
	})

	var nce *nonCircuitError
	if errors.As(err, &nce) {
		return nce.err
	}
	if err != nil {
		a.log.Debug().Err(err).Str("op", operation).Str("state", a.cb.State().String()).Msg("gmail call failed")
	}
	return err
}

type nonCircuitError struct {
	err error
}

func (e *nonCircuitError) Error() string {
	return e.err.Error()
}

func isBreakerSuccess(err error) bool {
	var nce *nonCircuitError
	return err == nil || errors.As(err, &nce)
}

// IsCircuitOpen reports whether calls currently fail fast.
func (a *GmailAdapter) IsCircuitOpen() bool {
	return a.cb.State() == gobreaker.StateOpen
}

func (a *GmailAdapter) wrapError(err error, defaultMsg string) error {
	return wrapGoogleError(gmailProviderID, err, defaultMsg)
}

func wrapGoogleError(provider string, err error, defaultMsg string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return out.NewProviderError(provider, out.ProviderErrUnavailable, "circuit open", err, true)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 401:
			return out.NewProviderError(provider, out.ProviderErrTokenExpired, "Token expired", err, false)
		case 403:
			if strings.Contains(apiErr.Message, "Rate Limit") {
				return out.NewProviderError(provider, out.ProviderErrRateLimit, "Rate limit exceeded", err, true)
			}
			return out.NewProviderError(provider, out.ProviderErrAuth, "Access denied", err, false)
		case 404:
			return out.NewProviderError(provider, out.ProviderErrNotFound, "Not found", err, false)
		case 429:
			return out.NewProviderError(provider, out.ProviderErrRateLimit, "Too many requests", err, true)
		case 500, 502, 503:
			return out.NewProviderError(provider, out.ProviderErrServer, "Server error", err, true)
		}
	}
	return out.NewProviderError(provider, out.ProviderErrNetwork, defaultMsg, err, true)
}

// =============================================================================
// Message conversion
// =============================================================================

// buildUnseenQuery is the Gmail search for unread inbox mail newer than window.
func buildUnseenQuery(now time.Time, window time.Duration) string {
	return fmt.Sprintf("is:unread in:inbox after:%d", now.Add(-window).Unix())
}

func convertMessage(msg *gmail.Message) domain.InboundMessage {
	m := domain.InboundMessage{
		ID:         msg.Id,
		ThreadID:   msg.ThreadId,
		Labels:     msg.LabelIds,
		ReceivedAt: time.UnixMilli(msg.InternalDate).UTC(),
	}
	if msg.Payload == nil {
		return m
	}

	headers := msg.Payload.Headers
	m.Subject = getHeader(headers, "Subject")
	m.MessageIDHeader = getHeader(headers, "Message-ID")
	m.SenderDisplay, m.SenderAddress = parseEmailAddress(getHeader(headers, "From"))

	var text, html string
	extractBody(msg.Payload, &text, &html, 0)
	if text == "" && html != "" {
		text = htmlToText(html)
	}
	m.Body = strings.TrimSpace(text)
	return m
}

func extractBody(part *gmail.MessagePart, text, html *string, depth int) {
	if part == nil || depth > maxBodyDepth {
		return
	}
	if part.Body != nil && part.Body.Data != "" && part.Filename == "" {
		if data, err := decodeBase64URL(part.Body.Data); err == nil {
			switch part.MimeType {
			case "text/plain":
				if *text == "" {
					*text = string(data)
				}
			case "text/html":
				if *html == "" {
					*html = string(data)
				}
			}
		}
	}
	for _, p := range part.Parts {
		extractBody(p, text, html, depth+1)
	}
}

func decodeBase64URL(s string) ([]byte, error) {
	if data, err := base64.URLEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return base64.RawURLEncoding.DecodeString(s)
}

var (
	htmlBreaks = regexp.MustCompile(`(?i)<br\s*/?>|</p>|</div>`)
	htmlTags   = regexp.MustCompile(`<[^>]*>`)
	blankLines = regexp.MustCompile(`\n{3,}`)
)

func htmlToText(s string) string {
	s = htmlBreaks.ReplaceAllString(s, "\n")
	s = htmlTags.ReplaceAllString(s, "")
	s = strings.NewReplacer("&nbsp;", " ", "&amp;", "&", "&lt;", "<", "&gt;", ">", "&quot;", `"`, "&#39;", "'").Replace(s)
	return blankLines.ReplaceAllString(s, "\n\n")
}

func parseEmailAddress(s string) (name, address string) {
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return "", strings.TrimSpace(s)
	}
	return addr.Name, addr.Address
}

func getHeader(headers []*gmail.MessagePartHeader, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

func buildRawMessage(from string, msg *out.OutgoingMessage) string {
	var buf strings.Builder

	if from != "" {
		fmt.Fprintf(&buf, "From: %s\r\n", from)
	}
	fmt.Fprintf(&buf, "To: %s\r\n", msg.To)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	if msg.InReplyTo != "" {
		fmt.Fprintf(&buf, "In-Reply-To: %s\r\n", msg.InReplyTo)
		fmt.Fprintf(&buf, "References: %s\r\n", msg.InReplyTo)
	}
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))

	return buf.String()
}

// =============================================================================
// Interface Compliance
// =============================================================================

var (
	_ out.InboxProvider  = (*GmailAdapter)(nil)
	_ out.OutboxProvider = (*GmailAdapter)(nil)
	_ out.Connector      = (*GmailAdapter)(nil)
)
