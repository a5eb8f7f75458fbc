package policy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPolicyLimitsAndModes(t *testing.T) {
	cases := []struct {
		name   string
		p      Policy
		mode   EncryptionMode
		dedup  DedupScope
		size   int64
		audit  bool
		binary bool
	}{
		{"private-max", PrivateMax(), EncryptionLocalRandom, DedupNone, 100 << 20, false, true},
		{"private-scoped", PrivateScoped("notes"), EncryptionNamespaceDerived, DedupUser, 1 << 30, false, true},
		{"group-scoped", GroupScoped("g1"), EncryptionGroupShared, DedupGroup, 5 << 30, false, true},
		{"public-markdown", PublicMarkdown(), EncryptionConvergent, DedupGlobal, 10 << 20, true, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.mode, tc.p.EncryptionMode())
			require.Equal(t, tc.dedup, tc.p.DeduplicationScope())
			require.Equal(t, tc.size, tc.p.MaxContentSize())
			require.Equal(t, tc.audit, tc.p.RequiresAudit())
			require.Equal(t, tc.binary, tc.p.AllowsBinaryContent())
		})
	}
}

func TestValidateTransitionRejectsMissingScope(t *testing.T) {
	require.Error(t, ValidateTransition(PrivateMax(), GroupScoped("")))
	require.Error(t, ValidateTransition(PrivateMax(), PrivateScoped("")))
	require.NoError(t, ValidateTransition(PrivateMax(), GroupScoped("g1")))
}

func TestPublicMarkdownRequiresConfirmation(t *testing.T) {
	require.True(t, PublicMarkdown().RequiresConfirmation())
	require.False(t, PrivateMax().RequiresConfirmation())
}
