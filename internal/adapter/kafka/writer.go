package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/skysweep/kindex-etl/internal/config"
	"github.com/skysweep/kindex-etl/internal/domain"
)

// Writer publishes derived K index results to a Kafka topic.
// It implements pipeline.ResultSink.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured results topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// Name identifies the sink in logs and metrics.
func (w *Writer) Name() string { return "kafka" }

// Publish writes the report's full result sequence in a single
// WriteMessages call. Every cycle republishes all windows still in the
// lookback; messages are keyed by station and window center so
// compacted consumers keep one record per window.
func (w *Writer) Publish(ctx context.Context, report domain.Report) error {
	if len(report.Results) == 0 {
		return nil
	}

	msgs := make([]kafkago.Message, len(report.Results))
	for i := range report.Results {
		msg, err := serializeToMessage(report, report.Results[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	return w.writer.WriteMessages(ctx, msgs...)
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// resultRecord is the wire form of one derived window.
type resultRecord struct {
	Station      string    `json:"station"`
	Name         string    `json:"name"`
	WindowCenter time.Time `json:"window_center"`
	K            float64   `json:"k"`
	RangeNT      float64   `json:"range_nt"`
	GeneratedAt  time.Time `json:"generated_at"`
}

// serializeToMessage marshals one window result into a Kafka message.
func serializeToMessage(report domain.Report, result domain.KIndexResult) (kafkago.Message, error) {
	record := resultRecord{
		Station:      report.Station,
		Name:         report.Name,
		WindowCenter: result.Center,
		K:            result.K,
		RangeNT:      result.Range,
		GeneratedAt:  report.GeneratedAt,
	}
	data, err := json.Marshal(record)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize result: %w", err)
	}

	return kafkago.Message{
		Key:   []byte(report.Station + "-" + strconv.FormatInt(result.Center.Unix(), 10)),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "station", Value: []byte(report.Station)},
			{Key: "generated_at", Value: []byte(report.GeneratedAt.Format(time.RFC3339))},
		},
	}, nil
}
