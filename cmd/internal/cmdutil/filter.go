package cmdutil

import (
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

type filterConfig struct {
	tables      string
	tableFilter string
}

var filterCfg = filterConfig{
	tableFilter: ".*",
}

func RegisterFilterFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(
		&filterCfg.tables,
		"tables",
		filterCfg.tables,
		"comma-separated list of tables to synchronize (default: all)",
	)
	cmd.PersistentFlags().StringVar(
		&filterCfg.tableFilter,
		"table-filter",
		filterCfg.tableFilter,
		"POSIX regexp filter for tables to action on",
	)
}

// FilterTables reduces the introspected table list to the ones selected by
// --tables and --table-filter. An explicit --tables entry that does not
// exist on the source is an error rather than a silent no-op.
func FilterTables(names []string) ([]string, error) {
	re, err := regexp.CompilePOSIX(filterCfg.tableFilter)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid table filter %q", filterCfg.tableFilter)
	}

	if filterCfg.tables != "" {
		available := make(map[string]struct{}, len(names))
		for _, name := range names {
			available[name] = struct{}{}
		}
		var ret []string
		for _, name := range strings.Split(filterCfg.tables, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			if _, ok := available[name]; !ok {
				return nil, errors.Newf("table %s does not exist on the source", name)
			}
			if re.MatchString(name) {
				ret = append(ret, name)
			}
		}
		return ret, nil
	}

	var ret []string
	for _, name := range names {
		if re.MatchString(name) {
			ret = append(ret, name)
		}
	}
	return ret, nil
}
