package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/sheetsproxy/internal/credentials"
)

var credentialColumns = []string{"access_token", "refresh_token", "token_type", "scope", "expiry_date", "refresh_token_expires_in"}

func strPtr(s string) *string { return &s }
func int64Ptr(v int64) *int64 { return &v }

func createTestCredentialStore(t *testing.T, enc *credentials.Encryptor) (*CredentialStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mockDB, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockDB.Close)
	return NewCredentialStore(mockDB, enc), mockDB
}

func TestCredentialStore_Load(t *testing.T) {
	tests := []struct {
		name     string
		identity string
		setupDB  func(pgxmock.PgxPoolIface, string)
		want     *credentials.Credential
		wantErr  error
		errorMsg string
	}{
		{
			name:     "active credential",
			identity: "alice@example.com",
			setupDB: func(mockDB pgxmock.PgxPoolIface, identity string) {
				mockDB.ExpectQuery("SELECT (.+) FROM google_oauth_tokens WHERE user_id = \\$1 AND is_revoked = false").
					WithArgs(identity).
					WillReturnRows(pgxmock.NewRows(credentialColumns).
						AddRow("ya29.alice", strPtr("1//alice"), "Bearer", strPtr("scope-a"), int64Ptr(1700000000000), (*int64)(nil)))
			},
			want: &credentials.Credential{
				AccessToken:  "ya29.alice",
				RefreshToken: "1//alice",
				TokenType:    "Bearer",
				Scope:        "scope-a",
				ExpiryDate:   int64Ptr(1700000000000),
			},
		},
		{
			name:     "null optional columns",
			identity: "bob@example.com",
			setupDB: func(mockDB pgxmock.PgxPoolIface, identity string) {
				mockDB.ExpectQuery("SELECT (.+) FROM google_oauth_tokens").
					WithArgs(identity).
					WillReturnRows(pgxmock.NewRows(credentialColumns).
						AddRow("ya29.bob", (*string)(nil), "Bearer", (*string)(nil), (*int64)(nil), (*int64)(nil)))
			},
			want: &credentials.Credential{AccessToken: "ya29.bob", TokenType: "Bearer"},
		},
		{
			name:     "not found",
			identity: "nobody@example.com",
			setupDB: func(mockDB pgxmock.PgxPoolIface, identity string) {
				mockDB.ExpectQuery("SELECT (.+) FROM google_oauth_tokens").
					WithArgs(identity).
					WillReturnError(pgx.ErrNoRows)
			},
			wantErr: credentials.ErrNotFound,
		},
		{
			name:     "database error",
			identity: "alice@example.com",
			setupDB: func(mockDB pgxmock.PgxPoolIface, identity string) {
				mockDB.ExpectQuery("SELECT (.+) FROM google_oauth_tokens").
					WithArgs(identity).
					WillReturnError(pgx.ErrTxClosed)
			},
			errorMsg: "failed to load credential",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mockDB := createTestCredentialStore(t, nil)
			tt.setupDB(mockDB, tt.identity)

			got, err := store.Load(context.Background(), tt.identity)
			switch {
			case tt.wantErr != nil:
				assert.True(t, errors.Is(err, tt.wantErr))
			case tt.errorMsg != "":
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
			assert.NoError(t, mockDB.ExpectationsWereMet())
		})
	}
}

func TestCredentialStore_Store(t *testing.T) {
	store, mockDB := createTestCredentialStore(t, nil)
	c := &credentials.Credential{
		AccessToken:  "ya29.new",
		RefreshToken: "1//new",
		TokenType:    "Bearer",
		ExpiryDate:   int64Ptr(1700000000000),
	}

	mockDB.ExpectExec("INSERT INTO google_oauth_tokens").
		WithArgs("alice@example.com", "ya29.new", pgxmock.AnyArg(), "Bearer", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Store(context.Background(), "alice@example.com", c))
	assert.NoError(t, mockDB.ExpectationsWereMet())
}

func TestCredentialStore_StoreEncrypts(t *testing.T) {
	key, err := credentials.GenerateKey()
	require.NoError(t, err)
	enc, err := credentials.NewEncryptor(key)
	require.NoError(t, err)
	store, mockDB := createTestCredentialStore(t, enc)

	var sealedAccess string
	mockDB.ExpectExec("INSERT INTO google_oauth_tokens").
		WithArgs("alice@example.com", capture(&sealedAccess), pgxmock.AnyArg(), "Bearer", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Store(context.Background(), "alice@example.com", &credentials.Credential{AccessToken: "ya29.plain", TokenType: "Bearer"}))
	assert.NotEmpty(t, sealedAccess)
	assert.NotEqual(t, "ya29.plain", sealedAccess)

	mockDB.ExpectQuery("SELECT (.+) FROM google_oauth_tokens").
		WithArgs("alice@example.com").
		WillReturnRows(pgxmock.NewRows(credentialColumns).
			AddRow(sealedAccess, (*string)(nil), "Bearer", (*string)(nil), (*int64)(nil), (*int64)(nil)))

	got, err := store.Load(context.Background(), "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "ya29.plain", got.AccessToken)
	assert.NoError(t, mockDB.ExpectationsWereMet())
}

func TestCredentialStore_Update(t *testing.T) {
	store, mockDB := createTestCredentialStore(t, nil)
	access := "ya29.refreshed"

	mockDB.ExpectExec("UPDATE google_oauth_tokens SET").
		WithArgs("alice@example.com", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.Update(context.Background(), "alice@example.com", credentials.Update{AccessToken: &access, ExpiryDate: int64Ptr(1)})
	require.NoError(t, err, "no matching row is not an error")
	assert.NoError(t, mockDB.ExpectationsWereMet())
}

func TestCredentialStore_Revoke(t *testing.T) {
	store, mockDB := createTestCredentialStore(t, nil)

	mockDB.ExpectExec("UPDATE google_oauth_tokens SET is_revoked = true").
		WithArgs("alice@example.com").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mockDB.ExpectExec("UPDATE google_oauth_tokens SET is_revoked = true").
		WithArgs("alice@example.com").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.Revoke(context.Background(), "alice@example.com"))
	require.NoError(t, store.Revoke(context.Background(), "alice@example.com"))
	assert.NoError(t, mockDB.ExpectationsWereMet())
}

func TestCredentialStore_RevokeError(t *testing.T) {
	store, mockDB := createTestCredentialStore(t, nil)
	mockDB.ExpectExec("UPDATE google_oauth_tokens").
		WithArgs("alice@example.com").
		WillReturnError(pgx.ErrTxClosed)

	err := store.Revoke(context.Background(), "alice@example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to revoke credential")
}

// captureArg records the value passed for one argument.
type captureArg struct{ dst *string }

func (c captureArg) Match(v any) bool {
	s, ok := v.(string)
	if ok {
		*c.dst = s
	}
	return ok
}

func capture(dst *string) pgxmock.Argument { return captureArg{dst: dst} }
