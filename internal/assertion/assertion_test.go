package assertion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	i, err := NewIssuer("shared-secret", time.Minute)
	require.NoError(t, err)

	raw, err := i.Issue("alice")
	require.NoError(t, err)
	require.NotEmpty(t, raw)

	sub, err := i.Verify(raw)
	require.NoError(t, err)
	require.Equal(t, "alice", sub)
}

func TestVerify_WrongSecret(t *testing.T) {
	a, err := NewIssuer("secret-a", time.Minute)
	require.NoError(t, err)
	b, err := NewIssuer("secret-b", time.Minute)
	require.NoError(t, err)

	raw, err := a.Issue("alice")
	require.NoError(t, err)

	_, err = b.Verify(raw)
	require.Error(t, err)
}

func TestVerify_Garbage(t *testing.T) {
	i, err := NewIssuer("shared-secret", time.Minute)
	require.NoError(t, err)

	_, err = i.Verify("not.a.jwt")
	require.Error(t, err)
}

func TestVerify_Expired(t *testing.T) {
	i, err := NewIssuer("shared-secret", time.Nanosecond)
	require.NoError(t, err)

	raw, err := i.Issue("alice")
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	_, err = i.Verify(raw)
	require.Error(t, err)
}

func TestNewIssuer_RequiresSecret(t *testing.T) {
	_, err := NewIssuer("", time.Minute)
	require.Error(t, err)
}
