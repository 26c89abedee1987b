package identity_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"waypoint/internal/crypto"
	"waypoint/internal/domain"
	"waypoint/internal/services/identity"
	"waypoint/internal/store"
)

func newService(t *testing.T) *identity.Service {
	t.Helper()
	home := t.TempDir()
	sealer, err := store.OpenSealer(home, "pass", store.ScryptParams{N: 1 << 10, R: 8, P: 1})
	require.NoError(t, err)
	ks, err := store.NewKeyFileStore(home, sealer)
	require.NoError(t, err)
	return identity.New(ks, zap.NewNop(), nil)
}

func TestLoadOrCreateIdentity_Idempotent(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	var (
		wg  sync.WaitGroup
		ids = make([]domain.Identity, 4)
	)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := svc.LoadOrCreateIdentity(ctx)
			if err == nil {
				ids[i] = id
			}
		}(i)
	}
	wg.Wait()
	for _, id := range ids[1:] {
		require.Equal(t, ids[0], id)
	}
	require.False(t, ids[0].XPub.IsZero())
}

func TestSignedPreKey_SignedAndStable(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	signer, err := svc.Signer(ctx)
	require.NoError(t, err)

	spk, err := svc.LoadOrCreateSignedPreKey(ctx, signer)
	require.NoError(t, err)
	require.True(t, crypto.VerifyEd25519(signer.SigningPublicKey(), spk.Pub.Slice(), spk.Signature))

	again, err := svc.LoadOrCreateSignedPreKey(ctx, signer)
	require.NoError(t, err)
	require.Equal(t, spk, again)

	rotated, err := svc.RotateSignedPreKey(ctx, signer)
	require.NoError(t, err)
	require.NotEqual(t, spk.ID, rotated.ID)

	current, err := svc.LoadOrCreateSignedPreKey(ctx, signer)
	require.NoError(t, err)
	require.Equal(t, rotated.ID, current.ID)

	old, err := svc.LoadSignedPreKey(ctx, spk.ID)
	require.NoError(t, err)
	require.Equal(t, spk, old)

	_, err = svc.LoadSignedPreKey(ctx, "spk-unknown")
	require.ErrorIs(t, err, domain.ErrSignedPreKeyMissing)
}

func TestOneTimePreKeys_ConsumeOnce(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	pubs, err := svc.GenerateOneTimePreKeys(ctx, 3)
	require.NoError(t, err)
	require.Len(t, pubs, 3)

	n, err := svc.CountOneTimePreKeys(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	priv, err := svc.ConsumeOneTimePreKey(ctx, pubs[0])
	require.NoError(t, err)
	derived, err := crypto.PublicFromPrivate(priv)
	require.NoError(t, err)
	require.Equal(t, pubs[0], derived)

	_, err = svc.ConsumeOneTimePreKey(ctx, pubs[0])
	require.ErrorIs(t, err, domain.ErrOneTimePreKeyMissing)

	require.NoError(t, svc.DeleteOneTimePreKey(ctx, pubs[1]))
	n, err = svc.CountOneTimePreKeys(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestFingerprintMatchesPublishedKeys(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	id, err := svc.LoadOrCreateIdentity(ctx)
	require.NoError(t, err)
	fp, err := svc.Fingerprint(ctx)
	require.NoError(t, err)
	require.Equal(t, identity.FingerprintOf(id.XPub, id.EdPub), fp)
}

func TestValidatePassphrase(t *testing.T) {
	require.ErrorIs(t, identity.ValidatePassphrase("short"), identity.ErrWeakPassphrase)
	require.ErrorIs(t, identity.ValidatePassphrase("alllowercaseletters"), identity.ErrWeakPassphrase)
	require.NoError(t, identity.ValidatePassphrase("Correct-Horse-42"))
}
