package email

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildMessageHTMLOnly(t *testing.T) {
	raw, err := buildMessage("noreply@zoro9x.com", Message{
		To:       []string{"a@example.com", "b@example.com"},
		Subject:  "Usage alert",
		HTMLBody: "<p>hello</p>",
	})
	require.NoError(t, err)

	body := string(raw)
	require.Contains(t, body, "To: a@example.com, b@example.com\r\n")
	require.Contains(t, body, "Content-Type: text/html")
	require.True(t, strings.HasSuffix(body, "<p>hello</p>"))
}

func TestBuildMessageMultipart(t *testing.T) {
	raw, err := buildMessage("noreply@zoro9x.com", Message{
		To:       []string{"a@example.com"},
		Subject:  "Usage alert",
		HTMLBody: "<p>hello</p>",
		TextBody: "hello",
	})
	require.NoError(t, err)

	body := string(raw)
	require.Contains(t, body, "multipart/alternative")
	require.Contains(t, body, "text/plain")
	require.Contains(t, body, "<p>hello</p>")
}

func TestSendRequiresRecipients(t *testing.T) {
	err := NewSMTP(Config{Host: "localhost", Port: 25}).Send(context.Background(), Message{Subject: "x"})
	require.Error(t, err)
}
