// Package deposit consumes CreditDeposit events published by the
// out-of-scope chain indexer and applies them to the Ledger. It
// contains no indexer logic itself — it is the narrow interface
// described by spec.md §6's deposit ingress.
package deposit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/BakaOtaku/robet-ai/internal/ledger"
)

// Event is the wire shape of a CreditDeposit message.
type Event struct {
	UserID              string          `json:"user_id"`
	ChainID             string          `json:"chain_id"`
	AmountUSD           decimal.Decimal `json:"amount_usd"`
	ExternalTxRef       string          `json:"external_tx_ref"`
	ExternalBlockHeight int64           `json:"external_block_height"`
}

// Consumer reads deposit events off Kafka and credits them to the Ledger.
type Consumer struct {
	reader *kafka.Reader
	ledger ledger.Ledger
}

// NewConsumer creates a Consumer reading topic from brokers in consumer
// group "deposit-ingress".
func NewConsumer(brokers []string, topic string, lg ledger.Ledger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: "deposit-ingress",
	})
	return &Consumer{reader: reader, ledger: lg}
}

// Run fetches and applies deposit events until ctx is cancelled or the
// reader is closed. Malformed messages are logged and skipped rather
// than retried; a failed CreditDeposit call is logged and the message
// is left uncommitted so it is redelivered.
func (c *Consumer) Run(ctx context.Context) {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			slog.Error("deposit consumer fetch failed", "err", err)
			return
		}

		var ev Event
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			slog.Error("deposit event malformed, skipping", "err", err)
			c.reader.CommitMessages(ctx, msg)
			continue
		}

		if err := c.ledger.CreditDeposit(ctx, ev.UserID, ev.ChainID, ev.AmountUSD, ev.ExternalTxRef, ev.ExternalBlockHeight); err != nil {
			slog.Error("credit deposit failed, will redeliver",
				"user_id", ev.UserID, "chain_id", ev.ChainID, "tx_ref", ev.ExternalTxRef, "err", err)
			continue
		}

		slog.Info("deposit credited",
			"user_id", ev.UserID, "chain_id", ev.ChainID, "amount_usd", ev.AmountUSD.String(), "tx_ref", ev.ExternalTxRef)
		c.reader.CommitMessages(ctx, msg)
	}
}

// Close releases the underlying Kafka reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
