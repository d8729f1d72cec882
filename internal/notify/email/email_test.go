package email

import (
	"context"
	"errors"
	"net/smtp"
	"testing"
	"time"

	"github.com/jordan-wright/email"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MuhammadAhmedSuhail/MLOPS-A2/internal/pipeline"
)

type captured struct {
	msgs  []*email.Email
	addrs []string
	auths []smtp.Auth
	err   error
}

func (c *captured) send(msg *email.Email, addr string, auth smtp.Auth) error {
	c.msgs = append(c.msgs, msg)
	c.addrs = append(c.addrs, addr)
	c.auths = append(c.auths, auth)
	return c.err
}

func failureEvent(kind pipeline.EventKind) pipeline.Event {
	return pipeline.Event{
		Kind:    kind,
		RunID:   "run-1",
		DAGID:   "automated_data_pipeline",
		Owner:   "user",
		Task:    "store_data",
		Attempt: 2,
		Error:   "vcs push: exit status 1",
		At:      time.Date(2026, 10, 14, 8, 0, 0, 0, time.UTC),
	}
}

func TestNotifyFiltersByKind(t *testing.T) {
	t.Parallel()

	c := &captured{}
	n, err := New(Config{SMTPAddr: "smtp.example.com:587", From: "p@example.com", To: []string{"a@example.com"}, OnFailure: true})
	require.NoError(t, err)
	n.WithSend(c.send)
	ctx := context.Background()

	require.NoError(t, n.Notify(ctx, failureEvent(pipeline.EventRetry)))
	require.NoError(t, n.Notify(ctx, failureEvent(pipeline.EventSuccess)))
	require.NoError(t, n.Notify(ctx, failureEvent(pipeline.EventFailure)))

	require.Len(t, c.msgs, 1)
	msg := c.msgs[0]
	assert.Equal(t, "[automated_data_pipeline] failed at store_data", msg.Subject)
	assert.Equal(t, []string{"a@example.com"}, msg.To)
	assert.Contains(t, string(msg.Text), "Task: store_data (attempt 2)")
	assert.Contains(t, string(msg.Text), "vcs push: exit status 1")
	assert.Equal(t, "smtp.example.com:587", c.addrs[0])
	assert.Nil(t, c.auths[0])
}

func TestNotifyRetryWithAuth(t *testing.T) {
	t.Parallel()

	c := &captured{err: errors.New("421 try later")}
	n, err := New(Config{
		SMTPAddr: "smtp.example.com:587",
		Username: "bot",
		Password: "secret",
		From:     "p@example.com",
		To:       []string{"a@example.com"},
		OnRetry:  true,
	})
	require.NoError(t, err)
	n.WithSend(c.send)

	err = n.Notify(context.Background(), failureEvent(pipeline.EventRetry))
	assert.ErrorContains(t, err, "421 try later")
	require.Len(t, c.msgs, 1)
	assert.Equal(t, "[automated_data_pipeline] retrying at store_data", c.msgs[0].Subject)
	assert.NotNil(t, c.auths[0])
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	assert.Error(t, err)
	_, err = New(Config{SMTPAddr: "smtp:25"})
	assert.Error(t, err)
	_, err = New(Config{SMTPAddr: "no-port", Username: "u", From: "f", To: []string{"t"}})
	assert.Error(t, err)
}
