package oplog

import (
	"testing"

	"github.com/cloudflare/circl/sign"
	"github.com/stretchr/testify/require"

	"github.com/saorsalabs/communitas/internal/identity"
	"github.com/saorsalabs/communitas/internal/secretstore"
)

func testIdentity(t *testing.T) identity.Identity {
	t.Helper()
	store := secretstore.NewMemory()
	id, err := identity.Claim(store, "ocean-forest-moon-star")
	require.NoError(t, err)
	return id
}

func TestAppendAdvancesTip(t *testing.T) {
	id := testIdentity(t)
	log, err := Open(t.TempDir(), id.IDHex())
	require.NoError(t, err)

	_, err = log.Append(id, []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, uint64(1), log.CurrentTip().Count)
}

func TestTipDeterminismAcrossPeers(t *testing.T) {
	id := testIdentity(t)
	a, err := Open(t.TempDir(), id.IDHex())
	require.NoError(t, err)
	op1, err := a.Append(id, []byte("one"))
	require.NoError(t, err)
	op2, err := a.Append(id, []byte("two"))
	require.NoError(t, err)

	b, err := Open(t.TempDir(), id.IDHex())
	require.NoError(t, err)
	known := map[[32]byte]sign.PublicKey{id.ID: id.Public}
	tip, err := b.ApplyOps([]Op{op1, op2}, DefaultVerify(known))
	require.NoError(t, err)

	require.Equal(t, a.CurrentTip(), tip)
}

func TestApplyOpsRejectsBatchOnGap(t *testing.T) {
	id := testIdentity(t)
	a, err := Open(t.TempDir(), id.IDHex())
	require.NoError(t, err)
	op1, err := a.Append(id, []byte("one"))
	require.NoError(t, err)
	op2, err := a.Append(id, []byte("two"))
	require.NoError(t, err)
	op2.ParentRoot = [32]byte{0xFF} // corrupt the chain

	b, err := Open(t.TempDir(), id.IDHex())
	require.NoError(t, err)
	known := map[[32]byte]sign.PublicKey{id.ID: id.Public}
	_, err = b.ApplyOps([]Op{op1, op2}, DefaultVerify(known))
	require.Error(t, err)
	require.Equal(t, uint64(0), b.CurrentTip().Count, "rejected batch must not partially apply")
}

func TestApplyOpsRejectsBadSignature(t *testing.T) {
	id := testIdentity(t)
	a, err := Open(t.TempDir(), id.IDHex())
	require.NoError(t, err)
	op1, err := a.Append(id, []byte("one"))
	require.NoError(t, err)
	op1.Signature[0] ^= 0xFF

	b, err := Open(t.TempDir(), id.IDHex())
	require.NoError(t, err)
	known := map[[32]byte]sign.PublicKey{id.ID: id.Public}
	_, err = b.ApplyOps([]Op{op1}, DefaultVerify(known))
	require.Error(t, err)
}
