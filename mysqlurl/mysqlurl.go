// Package mysqlurl accepts MySQL connection strings in both the driver's
// native DSN form and mysql:// URL form, so the CLI can take one flag
// format for both database flavors.
package mysqlurl

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	mysqldriver "github.com/go-sql-driver/mysql"
)

// Parse tries the driver DSN form first, then falls back to URL form.
func Parse(connStr string) (*mysqldriver.Config, error) {
	if cfg, err := parseDSN(connStr); err == nil {
		return cfg, nil
	}
	return parseURL(connStr)
}

func parseDSN(connStr string) (*mysqldriver.Config, error) {
	// Tolerate a mysql:// prefix on an otherwise plain DSN.
	byProtocol := strings.SplitN(connStr, "://", 2)
	cfg, err := mysqldriver.ParseDSN(byProtocol[len(byProtocol)-1])
	if err != nil {
		return nil, errors.Wrapf(err, "error parsing DSN for %q", connStr)
	}
	return cfg, nil
}

func parseURL(connStr string) (*mysqldriver.Config, error) {
	u, err := url.Parse(connStr)
	if err != nil {
		return nil, errors.Wrapf(err, "error parsing conn str for %q", connStr)
	}
	if u.Host == "" || len(u.EscapedPath()) < 2 {
		return nil, errors.Newf("connection url %q needs a host and a database path", connStr)
	}
	cfg := mysqldriver.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = u.Host
	cfg.User = u.User.Username()
	cfg.Passwd, _ = u.User.Password()
	cfg.DBName = u.EscapedPath()[1:]
	if err := applyParams(cfg, u.Query()); err != nil {
		return nil, errors.Wrapf(err, "error parsing conn str for %q", connStr)
	}
	// Reparse through the driver to normalize derived fields.
	cfg, err = mysqldriver.ParseDSN(cfg.FormatDSN())
	if err != nil {
		return nil, errors.Wrapf(err, "error parsing conn str for %q", connStr)
	}
	return cfg, nil
}

// applyParams maps URL query parameters onto driver config fields. Only the
// parameters that matter for sync workloads are interpreted; the rest pass
// through as session variables.
func applyParams(cfg *mysqldriver.Config, params url.Values) error {
	for k, vals := range params {
		v := vals[0]
		switch k {
		case "parseTime", "interpolateParams", "multiStatements", "rejectReadOnly":
			b, err := strconv.ParseBool(v)
			if err != nil {
				return errors.Newf("invalid bool value %q for %s", v, k)
			}
			switch k {
			case "parseTime":
				cfg.ParseTime = b
			case "interpolateParams":
				cfg.InterpolateParams = b
			case "multiStatements":
				cfg.MultiStatements = b
			case "rejectReadOnly":
				cfg.RejectReadOnly = b
			}
		case "timeout", "readTimeout", "writeTimeout":
			d, err := time.ParseDuration(v)
			if err != nil {
				return errors.Wrapf(err, "invalid duration for %s", k)
			}
			switch k {
			case "timeout":
				cfg.Timeout = d
			case "readTimeout":
				cfg.ReadTimeout = d
			case "writeTimeout":
				cfg.WriteTimeout = d
			}
		case "collation":
			cfg.Collation = v
		case "loc":
			unescaped, err := url.QueryUnescape(v)
			if err != nil {
				return errors.Wrapf(err, "invalid loc value")
			}
			loc, err := time.LoadLocation(unescaped)
			if err != nil {
				return errors.Wrapf(err, "invalid loc value")
			}
			cfg.Loc = loc
		case "tls":
			cfg.TLSConfig = v
		case "maxAllowedPacket":
			n, err := strconv.Atoi(v)
			if err != nil {
				return errors.Wrapf(err, "invalid maxAllowedPacket value")
			}
			cfg.MaxAllowedPacket = n
		default:
			if cfg.Params == nil {
				cfg.Params = make(map[string]string)
			}
			unescaped, err := url.QueryUnescape(v)
			if err != nil {
				return errors.Wrapf(err, "invalid value for %s", k)
			}
			cfg.Params[k] = unescaped
		}
	}
	return nil
}
