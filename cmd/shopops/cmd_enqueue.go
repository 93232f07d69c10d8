package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"shopops/internal/agent"
	"shopops/internal/types"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	enqueuePaper      string
	enqueueAttachment string
)

// enqueueCmd writes pending items the way the admin UI does
var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Queue a pending print job or message in the store",
}

var enqueuePrintCmd = &cobra.Command{
	Use:   "print [file.pdf]",
	Short: "Queue a print job",
	Args:  cobra.ExactArgs(1),
	RunE:  runEnqueuePrint,
}

var enqueueMessageCmd = &cobra.Command{
	Use:   "message [to] [body]",
	Short: "Queue an outbound message",
	Long: `Queues an outbound message. The recipient is a phone number or a full
contact address. Use --attachment to send a file with the body as caption.`,
	Args: cobra.ExactArgs(2),
	RunE: runEnqueueMessage,
}

func init() {
	enqueuePrintCmd.Flags().StringVar(&enqueuePaper, "paper", "", "Paper hint used for queue routing")
	enqueueMessageCmd.Flags().StringVar(&enqueueAttachment, "attachment", "", "File to attach")

	enqueueCmd.AddCommand(enqueuePrintCmd)
	enqueueCmd.AddCommand(enqueueMessageCmd)
}

func pendingItem(kind types.ItemKind, payload map[string]any) map[string]any {
	return map[string]any{
		"kind":      string(kind),
		"status":    string(types.StatusPending),
		"createdAt": time.Now().UTC().Format(time.RFC3339Nano),
		"payload":   payload,
	}
}

func enqueue(cmd *cobra.Command, collection string, data map[string]any) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	store, err := agent.OpenStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()

	id := uuid.NewString()
	if err := store.Set(ctx, collection, id, data); err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	logger.Info("Queued item", zap.String("collection", collection), zap.String("id", id))
	fmt.Fprintf(cmd.OutOrStdout(), "%s/%s\n", collection, id)
	return nil
}

func runEnqueuePrint(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}
	return enqueue(cmd, types.CollectionPrintJobs, pendingItem(types.KindPrint, map[string]any{
		"document": base64.StdEncoding.EncodeToString(data),
		"paper":    enqueuePaper,
		"title":    filepath.Base(args[0]),
	}))
}

func runEnqueueMessage(cmd *cobra.Command, args []string) error {
	payload := map[string]any{"to": args[0], "body": args[1]}
	if enqueueAttachment != "" {
		data, err := os.ReadFile(enqueueAttachment)
		if err != nil {
			return fmt.Errorf("read %s: %w", enqueueAttachment, err)
		}
		mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(enqueueAttachment)))
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		payload["attachment"] = map[string]any{
			"data":     base64.StdEncoding.EncodeToString(data),
			"mimeType": mimeType,
			"filename": filepath.Base(enqueueAttachment),
		}
	}
	return enqueue(cmd, types.CollectionMessages, pendingItem(types.KindMessage, payload))
}
