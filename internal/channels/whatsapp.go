// ABOUTME: WhatsApp sender built on whatsmeow
// ABOUTME: Device state lives in its own SQLite file; pairing is via QR on first run

package channels

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
)

// WhatsAppSender delivers replies over a paired WhatsApp device.
type WhatsAppSender struct {
	client    *whatsmeow.Client
	container *sqlstore.Container
	logger    *slog.Logger
}

// NewWhatsAppSender opens the device store and connects. On a fresh store a
// QR code is printed for pairing; an already-paired device reconnects
// silently.
func NewWhatsAppSender(ctx context.Context, dbPath string, logger *slog.Logger) (*WhatsAppSender, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "whatsapp")

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating whatsapp state dir: %w", err)
	}

	dbLog := waLog.Stdout("Database", "WARN", true)
	container, err := sqlstore.New(ctx, "sqlite",
		"file:"+dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dbLog)
	if err != nil {
		return nil, fmt.Errorf("opening whatsapp device store: %w", err)
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		container.Close()
		return nil, fmt.Errorf("loading whatsapp device: %w", err)
	}

	client := whatsmeow.NewClient(device, waLog.Stdout("Client", "WARN", true))

	if client.Store.ID == nil {
		qrChan, _ := client.GetQRChannel(ctx)
		if err := client.Connect(); err != nil {
			container.Close()
			return nil, fmt.Errorf("connecting for pairing: %w", err)
		}
		logger.Info("whatsapp pairing required, scan the QR code")
		for evt := range qrChan {
			if evt.Event == "code" {
				fmt.Println("WhatsApp pairing code:")
				fmt.Println(evt.Code)
			} else {
				logger.Info("whatsapp pairing event", "event", evt.Event)
			}
		}
	} else {
		if err := client.Connect(); err != nil {
			container.Close()
			return nil, fmt.Errorf("connecting whatsapp: %w", err)
		}
		logger.Info("whatsapp connected", "device", client.Store.ID.String())
	}

	return &WhatsAppSender{client: client, container: container, logger: logger}, nil
}

// Send delivers a text message to the given JID.
func (s *WhatsAppSender) Send(ctx context.Context, recipient, text string) error {
	jid, err := types.ParseJID(recipient)
	if err != nil {
		return fmt.Errorf("invalid JID %q: %w", recipient, err)
	}

	_, err = s.client.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return fmt.Errorf("sending whatsapp message: %w", err)
	}
	s.logger.Debug("whatsapp message sent", "to", recipient)
	return nil
}

// Close disconnects the client and closes the device store.
func (s *WhatsAppSender) Close() {
	if s.client != nil {
		s.client.Disconnect()
	}
	if s.container != nil {
		s.container.Close()
	}
}
