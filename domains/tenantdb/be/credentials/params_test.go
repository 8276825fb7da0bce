package credentials

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateParams(t *testing.T) {
	tests := []struct {
		name    string
		kind    Kind
		params  ConnectionParams
		wantErr bool
	}{
		{
			name:   "supabase with https project url",
			kind:   KindSupabase,
			params: ConnectionParams{ProjectURL: "https://abc123.supabase.co", ServiceKey: "sk"},
		},
		{
			name:    "supabase rejects plain http",
			kind:    KindSupabase,
			params:  ConnectionParams{ProjectURL: "http://abc123.supabase.co"},
			wantErr: true,
		},
		{
			name:    "supabase requires project url",
			kind:    KindSupabase,
			params:  ConnectionParams{ServiceKey: "sk"},
			wantErr: true,
		},
		{
			name:   "postgres with conn string",
			kind:   KindPostgres,
			params: ConnectionParams{ConnString: "postgres://u:p@db.example.com:5432/app"},
		},
		{
			name:    "postgres requires conn string",
			kind:    KindPostgres,
			params:  ConnectionParams{},
			wantErr: true,
		},
		{
			name:   "pending carries nothing",
			kind:   KindPending,
			params: ConnectionParams{},
		},
		{
			name:    "unknown kind",
			kind:    Kind("mysql"),
			params:  ConnectionParams{ConnString: "mysql://whatever"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateParams(tt.kind, tt.params)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidParams)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestDeriveHost(t *testing.T) {
	host, err := DeriveHost(KindSupabase, ConnectionParams{ProjectURL: "https://abc123.supabase.co"})
	require.NoError(t, err)
	require.Equal(t, "abc123.supabase.co", host)

	host, err = DeriveHost(KindPostgres, ConnectionParams{ConnString: "postgres://u:p@db.example.com:5432/app"})
	require.NoError(t, err)
	require.Equal(t, "db.example.com", host)

	host, err = DeriveHost(KindPending, ConnectionParams{})
	require.NoError(t, err)
	require.Empty(t, host)
}

func TestDSN(t *testing.T) {
	// Raw conn string wins over everything else.
	dsn, err := ConnectionParams{
		ConnString: "postgres://u:p@db.example.com:5432/app",
		ProjectURL: "https://abc123.supabase.co",
	}.DSN()
	require.NoError(t, err)
	require.Equal(t, "postgres://u:p@db.example.com:5432/app", dsn)

	dsn, err = ConnectionParams{
		ProjectURL: "https://abc123.supabase.co",
		ServiceKey: "service-key",
	}.DSN()
	require.NoError(t, err)
	require.Contains(t, dsn, "db.abc123.supabase.co:5432")
	require.Contains(t, dsn, "service-key")

	// Managed DSN needs the service key.
	_, err = ConnectionParams{ProjectURL: "https://abc123.supabase.co"}.DSN()
	require.ErrorIs(t, err, ErrInvalidParams)

	_, err = ConnectionParams{}.DSN()
	require.ErrorIs(t, err, ErrInvalidParams)
}
