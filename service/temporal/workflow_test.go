package temporal

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"
)

func stringPtr(s string) *string {
	return &s
}

func TestRefreshWalletWorkflow(t *testing.T) {
	input := RefreshWalletInput{
		Blockchain: "xrp",
		Address:    "rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh",
		Curve:      "secp256k1",
		PublicKey:  "02abcdef",
	}

	tests := []struct {
		name           string
		mockActivity   func(*testsuite.MockCallWrapper)
		expectedError  bool
		validateResult func(*testing.T, *RefreshWalletResult)
	}{
		{
			name: "refresh ends idle",
			mockActivity: func(refreshMock *testsuite.MockCallWrapper) {
				refreshMock.Return(&RefreshWalletResult{
					Blockchain:   "xrp",
					Address:      input.Address,
					Status:       "idle",
					Balance:      "42 XRP",
					PendingCount: 1,
				}, nil)
			},
			validateResult: func(t *testing.T, result *RefreshWalletResult) {
				assert.Equal(t, "idle", result.Status)
				assert.Equal(t, "42 XRP", result.Balance)
				assert.Equal(t, 1, result.PendingCount)
				assert.Nil(t, result.Error)
			},
		},
		{
			name: "failed refresh is reported in the result",
			mockActivity: func(refreshMock *testsuite.MockCallWrapper) {
				refreshMock.Return(&RefreshWalletResult{
					Blockchain: "xrp",
					Address:    input.Address,
					Status:     "failed",
					Error:      stringPtr("all providers failed"),
					ErrorKind:  "transient",
				}, nil)
			},
			validateResult: func(t *testing.T, result *RefreshWalletResult) {
				assert.Equal(t, "failed", result.Status)
				require.NotNil(t, result.Error)
				assert.Equal(t, "transient", result.ErrorKind)
			},
		},
		{
			name: "activity error fails the workflow",
			mockActivity: func(refreshMock *testsuite.MockCallWrapper) {
				refreshMock.Return(nil, errors.New("xrp is not enabled"))
			},
			expectedError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Setup
			testSuite := &testsuite.WorkflowTestSuite{}
			env := testSuite.NewTestWorkflowEnvironment()

			activities := &Activities{}
			env.RegisterActivity(activities.RefreshWallet)
			refreshMock := env.OnActivity(activities.RefreshWallet, mock.Anything, input)
			tt.mockActivity(refreshMock)

			// Act
			env.ExecuteWorkflow(RefreshWalletWorkflow, input)

			// Assert
			require.True(t, env.IsWorkflowCompleted())
			if tt.expectedError {
				assert.Error(t, env.GetWorkflowError())
				return
			}
			require.NoError(t, env.GetWorkflowError())

			var result RefreshWalletResult
			require.NoError(t, env.GetWorkflowResult(&result))
			assert.Equal(t, input.Address, result.Address)
			tt.validateResult(t, &result)
			env.AssertExpectations(t)
		})
	}
}

func TestRefreshWalletWorkflow_SingleAttempt(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	activities := &Activities{}
	env.RegisterActivity(activities.RefreshWallet)
	env.OnActivity(activities.RefreshWallet, mock.Anything, mock.Anything).
		Return(nil, errors.New("worker lost")).Once()

	env.ExecuteWorkflow(RefreshWalletWorkflow, RefreshWalletInput{Blockchain: "solana", Address: "So1"})

	assert.Error(t, env.GetWorkflowError())
	env.AssertActivityNumberOfCalls(t, "RefreshWallet", 1)
}
