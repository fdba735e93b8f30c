package cmdutil

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/dbpull/dbpull/schemadiff"
	"github.com/dbpull/dbpull/store"
	"github.com/dbpull/dbpull/store/mysqlstore"
	"github.com/dbpull/dbpull/store/pgstore"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type connConfig struct {
	Source string
	Local  string
}

var connCfg = connConfig{}

func RegisterConnFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(
		&connCfg.Source,
		"source",
		"",
		"URL of the remote source database (read-only)",
	)
	cmd.PersistentFlags().StringVar(
		&connCfg.Local,
		"local",
		"",
		"URL of the local database to synchronize",
	)
	for _, required := range []string{"source", "local"} {
		if err := cmd.MarkPersistentFlagRequired(required); err != nil {
			panic(err)
		}
	}
}

// Conn is one connected database with the dialect its DDL should render in.
type Conn struct {
	ID      string
	Store   store.LocalStore
	Dialect schemadiff.Dialect

	close func()
}

func (c *Conn) Close() {
	c.close()
}

// Connect dispatches on the connection string scheme. MySQL accepts both
// mysql:// URLs and driver DSNs; anything postgres-flavored goes to pgx.
func Connect(ctx context.Context, id string, connStr string, logger zerolog.Logger) (*Conn, error) {
	if len(connStr) == 0 {
		return nil, errors.Newf("empty connection string for %s", id)
	}
	scheme := strings.SplitN(connStr, "://", 2)[0]
	switch {
	case strings.Contains(scheme, "postgres"):
		s, err := pgstore.New(ctx, connStr, logger.With().Str("conn", id).Logger())
		if err != nil {
			return nil, err
		}
		return &Conn{ID: id, Store: s, Dialect: schemadiff.DialectPostgres, close: s.Close}, nil
	case strings.Contains(scheme, "mysql") || !strings.Contains(connStr, "://"):
		s, err := mysqlstore.New(ctx, connStr, logger.With().Str("conn", id).Logger())
		if err != nil {
			return nil, err
		}
		return &Conn{
			ID: id, Store: s, Dialect: schemadiff.DialectMySQL,
			close: func() { _ = s.Close() },
		}, nil
	}
	return nil, errors.Newf("unrecognised scheme %s from %s", scheme, connStr)
}

// LoadConns connects the source and local databases from the registered
// flags.
func LoadConns(ctx context.Context, logger zerolog.Logger) (source *Conn, local *Conn, _ error) {
	source, err := Connect(ctx, "source", connCfg.Source, logger)
	if err != nil {
		return nil, nil, err
	}
	local, err = Connect(ctx, "local", connCfg.Local, logger)
	if err != nil {
		source.Close()
		return nil, nil, err
	}
	return source, local, nil
}
