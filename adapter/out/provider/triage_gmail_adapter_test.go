package provider

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/gmail/v1"

	"triage_server/core/port/out"
)

func b64(s string) string {
	return base64.URLEncoding.EncodeToString([]byte(s))
}

func TestBuildUnseenQuery(t *testing.T) {
	now := time.Date(2026, time.October, 18, 12, 0, 0, 0, time.UTC)
	got := buildUnseenQuery(now, time.Hour)
	assert.Equal(t, "is:unread in:inbox after:1792321200", got)
}

func TestConvertMessage(t *testing.T) {
	msg := &gmail.Message{
		Id:           "m1",
		ThreadId:     "t1",
		LabelIds:     []string{"UNREAD", "INBOX"},
		InternalDate: 1792328400000,
		Payload: &gmail.MessagePart{
			MimeType: "multipart/alternative",
			Headers: []*gmail.MessagePartHeader{
				{Name: "From", Value: "Dana Reyes <dana@customer.example>"},
				{Name: "Subject", Value: "Cannot log in"},
				{Name: "Message-Id", Value: "<abc@mail.customer.example>"},
			},
			Parts: []*gmail.MessagePart{
				{MimeType: "text/html", Body: &gmail.MessagePartBody{Data: b64("<p>html body</p>")}},
				{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: b64("  plain body\n")}},
			},
		},
	}

	m := convertMessage(msg)

	assert.Equal(t, "m1", m.ID)
	assert.Equal(t, "t1", m.ThreadID)
	assert.Equal(t, "Cannot log in", m.Subject)
	assert.Equal(t, "Dana Reyes", m.SenderDisplay)
	assert.Equal(t, "dana@customer.example", m.SenderAddress)
	assert.Equal(t, "<abc@mail.customer.example>", m.MessageIDHeader)
	assert.Equal(t, "plain body", m.Body)
	assert.Equal(t, time.UnixMilli(1792328400000).UTC(), m.ReceivedAt)
}

func TestConvertMessage_HTMLOnly(t *testing.T) {
	msg := &gmail.Message{
		Id: "m2",
		Payload: &gmail.MessagePart{
			MimeType: "text/html",
			Headers:  []*gmail.MessagePartHeader{{Name: "From", Value: "not an address"}},
			Body:     &gmail.MessagePartBody{Data: b64("<div>Line one</div><div>Tom &amp; Jerry</div>")},
		},
	}

	m := convertMessage(msg)
	assert.Equal(t, "Line one\nTom & Jerry", m.Body)
	assert.Equal(t, "not an address", m.SenderAddress)
	assert.Empty(t, m.SenderDisplay)
}

func TestBuildRawMessage(t *testing.T) {
	raw := buildRawMessage("support@acme.example", &out.OutgoingMessage{
		To:        "dana@customer.example",
		Subject:   "Re: Cannot log in",
		Body:      "Hello\nWorld",
		InReplyTo: "<abc@mail.customer.example>",
	})

	assert.Contains(t, raw, "From: support@acme.example\r\n")
	assert.Contains(t, raw, "To: dana@customer.example\r\n")
	assert.Contains(t, raw, "Subject: Re: Cannot log in\r\n")
	assert.Contains(t, raw, "In-Reply-To: <abc@mail.customer.example>\r\n")
	assert.Contains(t, raw, "References: <abc@mail.customer.example>\r\n")
	assert.True(t, strings.HasSuffix(raw, "\r\n\r\nHello\r\nWorld"))
}

type gmailServer struct {
	mu       sync.Mutex
	query    string
	modified []string
	sentRaw  string
}

func (g *gmailServer) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		defer g.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		path := r.URL.Path

		switch {
		case strings.HasSuffix(path, "/profile"):
			_, _ = io.WriteString(w, `{"emailAddress":"support@acme.example"}`)
		case strings.HasSuffix(path, "/messages/send"):
			var m gmail.Message
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&m))
			raw, _ := base64.URLEncoding.DecodeString(m.Raw)
			g.sentRaw = string(raw)
			_, _ = io.WriteString(w, `{"id":"sent-1","threadId":"`+m.ThreadId+`"}`)
		case strings.HasSuffix(path, "/modify"):
			parts := strings.Split(path, "/")
			g.modified = append(g.modified, parts[len(parts)-2])
			_, _ = io.WriteString(w, `{}`)
		case strings.HasSuffix(path, "/messages"):
			g.query = r.URL.Query().Get("q")
			_, _ = io.WriteString(w, `{"messages":[{"id":"m1","threadId":"t1"},{"id":"m2","threadId":"t2"}]}`)
		case strings.HasSuffix(path, "/messages/m1"):
			_, _ = io.WriteString(w, `{"id":"m1","threadId":"t1","internalDate":"1792328400000","payload":{"mimeType":"text/plain",`+
				`"headers":[{"name":"From","value":"Dana <dana@customer.example>"},{"name":"Subject","value":"Help"}],`+
				`"body":{"data":"`+b64("How do I export my data?")+`"}}}`)
		case strings.HasSuffix(path, "/messages/m2"):
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":{"code":404,"message":"Not Found"}}`)
		default:
			t.Errorf("unexpected request %s %s", r.Method, path)
			w.WriteHeader(http.StatusTeapot)
		}
	}
}

func newTestGmail(t *testing.T) (*GmailAdapter, *gmailServer) {
	t.Helper()
	gs := &gmailServer{}
	srv := httptest.NewServer(gs.handler(t))
	t.Cleanup(srv.Close)

	a := NewGmailAdapter(GmailConfig{Endpoint: srv.URL + "/", HTTPClient: srv.Client()}, zerolog.Nop())
	a.now = func() time.Time { return time.Date(2026, time.October, 18, 12, 0, 0, 0, time.UTC) }
	require.NoError(t, a.Connect(context.Background()))
	return a, gs
}

func TestGmailAdapter_NotConnected(t *testing.T) {
	a := NewGmailAdapter(GmailConfig{}, zerolog.Nop())
	_, err := a.ListUnseen(context.Background(), time.Hour, 10)
	require.Error(t, err)
	assert.Equal(t, "gmail", a.Name())
}

func TestGmailAdapter_ListUnseenSkipsUnreadableMessages(t *testing.T) {
	a, gs := newTestGmail(t)
	assert.Equal(t, "support@acme.example", a.Address())

	msgs, err := a.ListUnseen(context.Background(), time.Hour, 10)
	require.NoError(t, err)

	assert.Equal(t, "is:unread in:inbox after:1792321200", gs.query)
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "dana@customer.example", msgs[0].SenderAddress)
	assert.Equal(t, "How do I export my data?", msgs[0].Body)
}

func TestGmailAdapter_GetNotFound(t *testing.T) {
	a, _ := newTestGmail(t)

	_, err := a.Get(context.Background(), "m2")
	require.Error(t, err)
	assert.True(t, out.IsNotFound(err))
	assert.False(t, a.IsCircuitOpen())
}

func TestGmailAdapter_SendAndMarkRead(t *testing.T) {
	a, gs := newTestGmail(t)
	ctx := context.Background()

	res, err := a.Send(ctx, &out.OutgoingMessage{
		To:       "dana@customer.example",
		Subject:  "Re: Help",
		Body:     "Thanks",
		ThreadID: "t1",
	})
	require.NoError(t, err)
	assert.Equal(t, "sent-1", res.MessageID)
	assert.Equal(t, "t1", res.ThreadID)
	assert.Contains(t, gs.sentRaw, "From: support@acme.example")

	require.NoError(t, a.MarkRead(ctx, "m1"))
	assert.Equal(t, []string{"m1"}, gs.modified)
}
