package oauthstate

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "tempo/pkg/domain-errors"
	"tempo/pkg/testutil"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func newSigner(t *testing.T) *Signer {
	t.Helper()
	s, err := NewSigner(testKey, 10*time.Minute)
	require.NoError(t, err)
	return s
}

func TestMintVerifyRoundTrip(t *testing.T) {
	s := newSigner(t)
	now := testutil.FixedTime

	state, expiresAt, err := s.Mint(testutil.TestIDs.CompanyA, "zoom", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(10*time.Minute), expiresAt)

	claims, err := s.Verify(state, "zoom", now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, testutil.TestIDs.CompanyA.String(), claims.CompanyID)
	assert.NotEmpty(t, claims.ID)
}

func TestStatesAreUnique(t *testing.T) {
	s := newSigner(t)
	a, _, err := s.Mint(testutil.TestIDs.CompanyA, "zoom", testutil.FixedTime)
	require.NoError(t, err)
	b, _, err := s.Mint(testutil.TestIDs.CompanyA, "zoom", testutil.FixedTime)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestVerifyRejects(t *testing.T) {
	s := newSigner(t)
	now := testutil.FixedTime
	state, _, err := s.Mint(testutil.TestIDs.CompanyA, "zoom", now)
	require.NoError(t, err)

	other, err := NewSigner([]byte(strings.Repeat("z", 32)), time.Minute)
	require.NoError(t, err)
	forged, _, err := other.Mint(testutil.TestIDs.CompanyA, "zoom", now)
	require.NoError(t, err)

	cases := map[string]struct {
		state string
		app   string
		at    time.Time
	}{
		"wrong app":     {state, "google-calendar", now},
		"expired":       {state, "zoom", now.Add(11 * time.Minute)},
		"bad signature": {forged, "zoom", now},
		"garbage":       {"not-a-jwt", "zoom", now},
		"empty":         {"", "zoom", now},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := s.Verify(tc.state, tc.app, tc.at)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidOrExpiredState), "got %v", err)
		})
	}
}

func TestNewSignerValidation(t *testing.T) {
	_, err := NewSigner([]byte("short"), time.Minute)
	assert.Error(t, err)
	_, err = NewSigner(testKey, 0)
	assert.Error(t, err)
}
