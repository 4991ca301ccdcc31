package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sqlsync/sqlsync/internal/config"
	"github.com/sqlsync/sqlsync/internal/logger"
	"github.com/sqlsync/sqlsync/pkg/journalid"
)

var mutateCmd = &cobra.Command{
	Use:   "mutate --doc <id> [--file <path>]",
	Short: "Apply a mutation to the local document",
	Long: `Apply a single mutation to the local database through the reducer and
append it to the local timeline, where it waits to replicate out on the
next "sqlsyncctl sync". The mutation bytes are read from --file, or from
stdin if --file is omitted.`,
	RunE: runMutate,
}

func init() {
	mutateCmd.Flags().String("doc", "", "document id (required)")
	mutateCmd.Flags().String("file", "", "path to the mutation bytes (default: stdin)")
	_ = mutateCmd.MarkFlagRequired("doc")
}

func runMutate(cmd *cobra.Command, args []string) error {
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

	filePath, _ := cmd.Flags().GetString("file")
	var mutation []byte
	if filePath != "" {
		mutation, err = os.ReadFile(filePath)
	} else {
		mutation, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return fmt.Errorf("read mutation: %w", err)
	}

	ctx := cmd.Context()
	session, err := openLocalDocument(ctx, cfg, documentID)
	if err != nil {
		return err
	}
	defer session.Close(ctx)

	if err := session.Doc.Mutate(ctx, mutation); err != nil {
		return fmt.Errorf("mutate: %w", err)
	}
	return nil
}
