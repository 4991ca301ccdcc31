package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sqlsync/sqlsync/internal/config"
	"github.com/sqlsync/sqlsync/internal/logger"
	"github.com/sqlsync/sqlsync/pkg/connstate"
	"github.com/sqlsync/sqlsync/pkg/journalid"
	"github.com/sqlsync/sqlsync/pkg/localdoc"
	"github.com/sqlsync/sqlsync/pkg/replication"
	"github.com/sqlsync/sqlsync/pkg/transport"
)

var syncCmd = &cobra.Command{
	Use:   "sync --doc <id>",
	Short: "Replicate the local document against the coordinator",
	Long: `Connect to client.coordinator_url, push the local timeline out, and pull
the authoritative document's pages back in, reconnecting with backoff
whenever the connection drops. Runs until interrupted.`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().String("doc", "", "document id (required)")
	_ = syncCmd.MarkFlagRequired("doc")
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := logger.Init(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: cfg.Logging.Output}); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if cfg.Client.CoordinatorURL == "" {
		return fmt.Errorf("client.coordinator_url is not configured")
	}

	docFlag, _ := cmd.Flags().GetString("doc")
	documentID, err := journalid.Parse(docFlag)
	if err != nil {
		return fmt.Errorf("parse --doc: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session, err := openLocalDocument(ctx, cfg, documentID)
	if err != nil {
		return err
	}
	defer session.Close(ctx)

	url := fmt.Sprintf("%s/doc/%s", cfg.Client.CoordinatorURL, documentID.String())

	machine := connstate.NewDisconnected()
	for ctx.Err() == nil {
		machine.StartConnecting()
		if err := connectAndSync(ctx, url, cfg.Client.MaxMessageSize.Int64(), session.Doc, machine); err != nil {
			logger.Warn("coordinator connection lost", "err", err)
		}
		machine.Failed()

		delay := machine.NextDelay()
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
	return nil
}

// connectAndSync dials url once and drives the replication session until
// the connection drops or ctx is cancelled.
func connectAndSync(ctx context.Context, url string, maxMessageSize int64, doc *localdoc.Document, machine *connstate.Machine) error {
	conn, err := transport.Dial(ctx, url, maxMessageSize)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	machine.Connected()
	logger.Info("connected to coordinator", "url", url)

	rep := replication.NewSession(doc, doc)
	if err := conn.WriteMsg(rep.Start(), nil); err != nil {
		return fmt.Errorf("write start: %w", err)
	}

	wake := doc.Signals.Wait()
	readErr := make(chan error, 1)
	go func() {
		for {
			msg, body, err := conn.ReadMsg()
			if err != nil {
				readErr <- err
				return
			}
			reply, ok, err := rep.HandleIncoming(msg, body)
			if err != nil {
				readErr <- err
				return
			}
			if ok {
				if err := conn.WriteMsg(reply, nil); err != nil {
					readErr <- err
					return
				}
			}
			if msg.Kind == replication.MsgFrame {
				if err := doc.Rebase(ctx); err != nil {
					logger.Warn("rebase failed", "err", err)
				}
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return err
		case <-wake:
			for {
				msg, payload, ok, err := rep.Sync()
				if err != nil {
					return fmt.Errorf("sync: %w", err)
				}
				if !ok {
					break
				}
				if err := conn.WriteMsg(msg, payload); err != nil {
					return fmt.Errorf("write frame: %w", err)
				}
			}
		}
	}
}
