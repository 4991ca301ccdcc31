package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sqlsync/sqlsync/internal/config"
	"github.com/sqlsync/sqlsync/internal/logger"
	"github.com/sqlsync/sqlsync/pkg/journalid"
	"github.com/sqlsync/sqlsync/pkg/replication"
	"github.com/sqlsync/sqlsync/pkg/transport"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the coordinator replication service",
	Long: `Run the coordinator's replication websocket service: accepts client
connections at /doc/{id}, applies incoming mutations to each document's
authoritative database in commit order, and streams the resulting pages
back to every other client replicating that document.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("reducer", "", "path to the reducer wasm module (overrides config coordinator.reducer_path)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := logger.Init(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: cfg.Logging.Output}); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	reducerPath, _ := cmd.Flags().GetString("reducer")
	if reducerPath == "" {
		reducerPath = cfg.Coordinator.ReducerPath
	}
	if reducerPath == "" {
		return fmt.Errorf("no reducer wasm module configured (set coordinator.reducer_path or --reducer)")
	}
	reducerBin, err := loadReducer(reducerPath)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.Coordinator.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	docs := newDocumentSet(cfg.Coordinator.DataDir, reducerBin)
	defer docs.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/doc/", func(w http.ResponseWriter, r *http.Request) {
		handleConnection(r.Context(), docs, cfg.Coordinator.MaxMessageSize.Int64(), w, r)
	})

	srv := &http.Server{Addr: cfg.Coordinator.ListenAddr, Handler: mux}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("coordinator listening", "addr", cfg.Coordinator.ListenAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	}
}

// handleConnection upgrades one client connection and drives its
// full-duplex replication session until the socket closes or ctx is
// done, pushing pending frames each time the document's signal router
// wakes it.
func handleConnection(ctx context.Context, docs *documentSet, maxMessageSize int64, w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimPrefix(r.URL.Path, "/doc/")
	id, err := journalid.Parse(idStr)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid document id: %v", err), http.StatusBadRequest)
		return
	}

	doc, err := docs.get(ctx, id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		logger.Error("open document failed", "id", id.String(), "err", err)
		return
	}

	conn, err := transport.Upgrade(w, r, maxMessageSize)
	if err != nil {
		logger.Error("upgrade failed", "id", id.String(), "err", err)
		return
	}
	defer conn.Close()

	session := replication.NewSession(doc, doc)
	if err := conn.WriteMsg(session.Start(), nil); err != nil {
		logger.Warn("write start failed", "id", id.String(), "err", err)
		return
	}

	wake := doc.Signals.Wait()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			msg, body, err := conn.ReadMsg()
			if err != nil {
				return
			}
			reply, ok, err := session.HandleIncoming(msg, body)
			if err != nil {
				logger.Warn("handle incoming failed", "id", id.String(), "err", err)
				return
			}
			if ok {
				if err := conn.WriteMsg(reply, nil); err != nil {
					return
				}
			}
			if msg.Kind == replication.MsgFrame {
				if err := doc.Step(ctx); err != nil {
					logger.Warn("step failed", "id", id.String(), "err", err)
				}
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-wake:
			for {
				msg, payload, ok, err := session.Sync()
				if err != nil {
					logger.Warn("sync failed", "id", id.String(), "err", err)
					return
				}
				if !ok {
					break
				}
				if err := conn.WriteMsg(msg, payload); err != nil {
					return
				}
			}
		}
	}
}
