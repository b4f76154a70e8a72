package temporal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	temporalsdk "go.temporal.io/sdk/temporal"

	"github.com/brojonat/walletcore/service/chain"
	"github.com/brojonat/walletcore/service/wallet"
)

// Mock wallet source
type MockWalletSource struct {
	mock.Mock
}

func (m *MockWalletSource) Wallet(ctx context.Context, input RefreshWalletInput) (Refresher, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(Refresher), args.Error(1)
}

// Mock wallet manager
type MockRefresher struct {
	mock.Mock
}

func (m *MockRefresher) Refresh(ctx context.Context) wallet.State {
	args := m.Called(ctx)
	return args.Get(0).(wallet.State)
}

func (m *MockRefresher) Account() *chain.AccountState {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(*chain.AccountState)
}

func (m *MockRefresher) Pending() []wallet.PendingTransaction {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]wallet.PendingTransaction)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRefreshWallet_Idle(t *testing.T) {
	// Setup
	input := RefreshWalletInput{Blockchain: "xrp", Address: "rWallet"}
	refresher := new(MockRefresher)
	refresher.On("Refresh", mock.Anything).Return(wallet.State{Status: wallet.StatusIdle, UpdatedAt: time.Now()})
	refresher.On("Account").Return(&chain.AccountState{
		Blockchain: chain.XRP,
		Address:    "rWallet",
		Balance:    chain.NewAmount(chain.XRP, decimal.RequireFromString("25.5")),
	})
	refresher.On("Pending").Return([]wallet.PendingTransaction{{Hash: "ABC"}})

	source := new(MockWalletSource)
	source.On("Wallet", mock.Anything, input).Return(refresher, nil)

	activities := NewActivities(source, nil, testLogger())

	// Act
	result, err := activities.RefreshWallet(context.Background(), input)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "idle", result.Status)
	assert.Equal(t, "25.5 XRP", result.Balance)
	assert.Equal(t, 1, result.PendingCount)
	assert.Nil(t, result.Error)
	assert.False(t, result.RefreshTime.IsZero())
	source.AssertExpectations(t)
	refresher.AssertExpectations(t)
}

func TestRefreshWallet_FailedStateIsNotAnError(t *testing.T) {
	input := RefreshWalletInput{Blockchain: "ethereum", Address: "0xabc"}
	refresher := new(MockRefresher)
	refresher.On("Refresh", mock.Anything).Return(wallet.State{
		Status: wallet.StatusFailed,
		Err:    chain.ErrProvidersExhausted.Withf("3 providers failed"),
	})
	refresher.On("Account").Return(nil)
	refresher.On("Pending").Return(nil)

	source := new(MockWalletSource)
	source.On("Wallet", mock.Anything, input).Return(refresher, nil)

	result, err := NewActivities(source, nil, testLogger()).RefreshWallet(context.Background(), input)

	require.NoError(t, err)
	assert.Equal(t, "failed", result.Status)
	require.NotNil(t, result.Error)
	assert.Contains(t, *result.Error, "3 providers failed")
	assert.Equal(t, "transient", result.ErrorKind)
	assert.Equal(t, chain.ErrProvidersExhausted.Code, result.ErrorCode)
	assert.Empty(t, result.Balance)
}

func TestRefreshWallet_NoAccountKeepsMessage(t *testing.T) {
	input := RefreshWalletInput{Blockchain: "xrp", Address: "rNew"}
	refresher := new(MockRefresher)
	refresher.On("Refresh", mock.Anything).Return(wallet.State{
		Status:  wallet.StatusNoAccount,
		Message: "account is not activated: send at least 10 XRP to activate it",
	})
	refresher.On("Account").Return(&chain.AccountState{Inactive: true})
	refresher.On("Pending").Return(nil)

	source := new(MockWalletSource)
	source.On("Wallet", mock.Anything, input).Return(refresher, nil)

	result, err := NewActivities(source, nil, testLogger()).RefreshWallet(context.Background(), input)

	require.NoError(t, err)
	assert.Equal(t, "no_account", result.Status)
	assert.Contains(t, result.Message, "10 XRP")
	assert.Empty(t, result.Balance)
}

func TestRefreshWallet_SourceErrorIsNonRetryable(t *testing.T) {
	input := RefreshWalletInput{Blockchain: "dogecoin", Address: "D123"}
	source := new(MockWalletSource)
	source.On("Wallet", mock.Anything, input).Return(nil, chain.ErrNotSupported.Withf("dogecoin is not enabled"))

	result, err := NewActivities(source, nil, testLogger()).RefreshWallet(context.Background(), input)

	require.Error(t, err)
	assert.Nil(t, result)
	var appErr *temporalsdk.ApplicationError
	require.True(t, errors.As(err, &appErr))
	assert.True(t, appErr.NonRetryable())
	assert.Equal(t, "WalletUnavailable", appErr.Type())
}
