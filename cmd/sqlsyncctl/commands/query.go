package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sqlsync/sqlsync/internal/config"
	"github.com/sqlsync/sqlsync/internal/logger"
	"github.com/sqlsync/sqlsync/internal/sqlengine"
	"github.com/sqlsync/sqlsync/pkg/journalid"
)

var queryCmd = &cobra.Command{
	Use:   "query --doc <id> <sql>",
	Short: "Run a read-only query against the local document",
	Long: `Run sql in an always-rolled-back transaction against the local database and
print the result as a tab-separated table. It never touches the local
timeline, so it has nothing to replicate out.`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().String("doc", "", "document id (required)")
	_ = queryCmd.MarkFlagRequired("doc")
}

func runQuery(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := logger.Init(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: cfg.Logging.Output}); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	docFlag, _ := cmd.Flags().GetString("doc")
	documentID, err := journalid.Parse(docFlag)
	if err != nil {
		return fmt.Errorf("parse --doc: %w", err)
	}

	ctx := cmd.Context()
	session, err := openLocalDocument(ctx, cfg, documentID)
	if err != nil {
		return err
	}
	defer session.Close(ctx)

	sql := args[0]
	var result *sqlengine.QueryResult
	err = session.Doc.Query(ctx, func(ctx context.Context, tx sqlengine.Tx) error {
		r, err := tx.Query(ctx, sql)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}

	printTable(result)
	return nil
}

func printTable(result *sqlengine.QueryResult) {
	fmt.Println(strings.Join(result.Columns, "\t"))
	for _, row := range result.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = formatValue(v)
		}
		fmt.Println(strings.Join(cells, "\t"))
	}
}

func formatValue(v sqlengine.SqliteValue) string {
	switch v.Kind {
	case sqlengine.KindNull:
		return "NULL"
	case sqlengine.KindInteger:
		return strconv.FormatInt(v.Integer, 10)
	case sqlengine.KindReal:
		return strconv.FormatFloat(v.Real, 'g', -1, 64)
	case sqlengine.KindText:
		return v.Text
	case sqlengine.KindBlob:
		return fmt.Sprintf("<%d bytes>", len(v.Blob))
	default:
		return ""
	}
}
