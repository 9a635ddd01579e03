package retrycall

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	testCases := []struct {
		name        string
		cfg         Config
		expectedErr string
	}{
		{
			name: "defaults are valid",
			cfg:  DefaultConfig(),
		},
		{
			name:        "zero per-call limit",
			cfg:         Config{PerCallBufferLimit: 0, ChannelBufferLimit: 10},
			expectedErr: "PerCallBufferLimit",
		},
		{
			name:        "zero channel limit",
			cfg:         Config{PerCallBufferLimit: 10, ChannelBufferLimit: 0},
			expectedErr: "ChannelBufferLimit",
		},
		{
			name:        "per-call limit above channel limit",
			cfg:         Config{PerCallBufferLimit: 20, ChannelBufferLimit: 10},
			expectedErr: "must not exceed",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.expectedErr == "" {
				require.NoError(t, err)
			} else {
				require.ErrorContains(t, err, tc.expectedErr)
			}
		})
	}
}

func TestCommitReasonString(t *testing.T) {
	require.Equal(t, "response_headers_received", CommitResponseHeadersReceived.String())
	require.Equal(t, "throttled", CommitThrottled.String())
	require.Equal(t, "buffer_exceeded", CommitBufferExceeded.String())
}
