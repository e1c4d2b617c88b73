package email

import (
	"context"
	"errors"
	"net/smtp"
	"testing"

	notificationdomain "github.com/smallbiznis/settlement/internal/notification/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSinkRendersTemplate(t *testing.T) {
	sink, err := NewSink(Config{Host: "smtp.test", Port: 2525, From: "billing@test"}, zap.NewNop())
	require.NoError(t, err)

	var gotAddr string
	var gotTo []string
	var gotMsg string
	sink.WithSender(func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr = addr
		gotTo = to
		gotMsg = string(msg)
		assert.Nil(t, auth)
		return nil
	})

	err = sink.Notify(context.Background(), notificationdomain.Notification{
		Kind:      notificationdomain.KindPaymentSucceeded,
		OrgID:     1,
		Recipient: "owner@test",
		Data: map[string]any{
			"order_number": "ORD-1",
			"amount":       int64(1000),
			"currency":     "CLP",
			"invoice_id":   "99",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "smtp.test:2525", gotAddr)
	assert.Equal(t, []string{"owner@test"}, gotTo)
	assert.Contains(t, gotMsg, "Subject: Payment received")
	assert.Contains(t, gotMsg, "ORD-1")
	assert.Contains(t, gotMsg, "1000 CLP")
}

func TestSinkErrors(t *testing.T) {
	sink, err := NewSink(Config{Host: "smtp.test", Port: 25}, zap.NewNop())
	require.NoError(t, err)

	err = sink.Notify(context.Background(), notificationdomain.Notification{Kind: notificationdomain.KindCreditsAdded})
	require.ErrorIs(t, err, notificationdomain.ErrMissingRecipient)

	err = sink.Notify(context.Background(), notificationdomain.Notification{Kind: "unknown", Recipient: "a@test"})
	require.ErrorIs(t, err, notificationdomain.ErrInvalidKind)

	boom := errors.New("connection refused")
	sink.WithSender(func(string, smtp.Auth, string, []string, []byte) error { return boom })
	err = sink.Notify(context.Background(), notificationdomain.Notification{
		Kind:      notificationdomain.KindCreditsAdded,
		Recipient: "a@test",
		Data:      map[string]any{"credits": 10, "balance": 10},
	})
	require.ErrorIs(t, err, boom)
}
