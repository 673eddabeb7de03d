package identityrepo

import (
	"testing"

	"github.com/ghvoucher/voucher-bridge/internal/adapters/contracttest"
	"github.com/ghvoucher/voucher-bridge/internal/adapters/postgres/testutil"
	identityrepoport "github.com/ghvoucher/voucher-bridge/internal/ports/out/identityrepo"
)

func TestContract_PostgresIdentityRepo(t *testing.T) {
	pool := testutil.OpenMigratedPool(t)

	contracttest.RunIdentityRepo(t, func(t *testing.T) (identityrepoport.Repository, func()) {
		t.Helper()
		return NewRepo(pool), nil
	})
}
