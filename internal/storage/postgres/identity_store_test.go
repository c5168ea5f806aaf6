package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/tech-intel-harvester/internal/harvest"
)

func TestIdentityStoreSaveUpsertsSortedArrays(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewIdentityStoreWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO account_identities").
		WithArgs(
			[]string{"alice", "bob"},
			[]string{"7", "42"},
			[]string{"Alice", "Bob"},
			[]int64{100, 3},
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))

	err = store.Save(context.Background(), map[string]harvest.Identity{
		"bob":   {ID: "42", Name: "Bob", Followers: 3},
		"alice": {ID: "7", Name: "Alice", Followers: 100},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIdentityStoreSaveEmptyIsNoop(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewIdentityStoreWithPool(mock, "ids")
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIdentityStoreLoad(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewIdentityStoreWithPool(mock, "ids")
	require.NoError(t, err)

	rows := mock.NewRows([]string{"handle", "user_id", "name", "followers"}).
		AddRow("bob", "42", "Bob", int64(3)).
		AddRow("alice", "7", "Alice", int64(100))
	mock.ExpectQuery("SELECT handle, user_id, name, followers FROM ids").WillReturnRows(rows)

	loaded, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, map[string]harvest.Identity{
		"bob":   {ID: "42", Name: "Bob", Followers: 3},
		"alice": {ID: "7", Name: "Alice", Followers: 100},
	}, loaded)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIdentityStoreLoadFailureIsUnreadable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewIdentityStoreWithPool(mock, "ids")
	require.NoError(t, err)
	mock.ExpectQuery("SELECT handle").WillReturnError(errors.New("relation does not exist"))

	_, err = store.Load(context.Background())
	require.ErrorIs(t, err, harvest.ErrCacheUnreadable)
}

func TestIdentityStoreEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewIdentityStoreWithPool(mock, "ids")
	require.NoError(t, err)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS ids").WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewIdentityStoreWithPoolValidatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewIdentityStoreWithPool(mock, "ids; DROP TABLE x")
	require.Error(t, err)
	_, err = NewIdentityStoreWithPool(nil, "ids")
	require.Error(t, err)
}
