package service

import (
	"context"
	"errors"
	"testing"

	notificationdomain "github.com/smallbiznis/settlement/internal/notification/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(ctx context.Context, n notificationdomain.Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

func TestFanoutDeliversToEverySink(t *testing.T) {
	ctx := context.Background()
	n := notificationdomain.Notification{Kind: notificationdomain.KindCreditsAdded, OrgID: 7}

	failing := &mockNotifier{}
	failing.On("Notify", ctx, n).Return(errors.New("smtp down")).Once()
	skipped := &mockNotifier{}
	skipped.On("Notify", ctx, n).Return(notificationdomain.ErrMissingRecipient).Once()
	ok := &mockNotifier{}
	ok.On("Notify", ctx, n).Return(nil).Once()

	fanout := NewFanout(NewLogSink(zap.NewNop()), failing, nil, skipped, ok)
	err := fanout.Notify(ctx, n)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp down")

	failing.AssertExpectations(t)
	skipped.AssertExpectations(t)
	ok.AssertExpectations(t)
}

func TestFanoutRejectsEmptyKind(t *testing.T) {
	err := NewFanout().Notify(context.Background(), notificationdomain.Notification{})
	require.ErrorIs(t, err, notificationdomain.ErrInvalidKind)
}
