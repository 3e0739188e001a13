// Package kafka is a write-only raster driver publishing one message per
// row to kafka://broker[,broker]/topic.
package kafka

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"rasterstat/internal/logging"
	"rasterstat/raster"
)

// Config mirrors the kafka block of the process config.
type Config struct {
	Version      string
	ClientID     string
	RequiredAcks int16 // 0,1,-1
	Timeout      time.Duration
	TLSEn        bool
	SASLUser     string
	SASLPass     string
}

// ProducerFunc builds the producer for a set of brokers.
type ProducerFunc func(brokers []string, sc *sarama.Config) (sarama.SyncProducer, error)

type Driver struct {
	Cfg Config
	// NewProducer defaults to sarama.NewSyncProducer.
	NewProducer ProducerFunc
}

// SaramaConfig translates Cfg.
func (d Driver) SaramaConfig() (*sarama.Config, error) {
	sc := sarama.NewConfig()
	if d.Cfg.Version != "" {
		ver, err := sarama.ParseKafkaVersion(d.Cfg.Version)
		if err != nil {
			return nil, err
		}
		sc.Version = ver
	}
	if d.Cfg.ClientID != "" {
		sc.ClientID = d.Cfg.ClientID
	}
	sc.Producer.RequiredAcks = sarama.RequiredAcks(d.Cfg.RequiredAcks)
	if d.Cfg.Timeout > 0 {
		sc.Producer.Timeout = d.Cfg.Timeout
	}
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	if d.Cfg.TLSEn {
		sc.Net.TLS.Enable = true
	}
	if d.Cfg.SASLUser != "" {
		sc.Net.SASL.Enable = true
		sc.Net.SASL.User, sc.Net.SASL.Password = d.Cfg.SASLUser, d.Cfg.SASLPass
	}
	return sc, sc.Validate()
}

// ParseTarget splits kafka://b1:9092,b2:9092/topic.
func ParseTarget(path string) (brokers []string, topic string, err error) {
	rest, ok := strings.CutPrefix(path, "kafka://")
	if !ok {
		return nil, "", fmt.Errorf("kafka: %q is not a kafka:// target", path)
	}
	hosts, topic, _ := strings.Cut(rest, "/")
	for _, b := range strings.Split(hosts, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 || topic == "" || strings.Contains(topic, "/") {
		return nil, "", fmt.Errorf("kafka: want kafka://broker[,broker]/topic, got %q", path)
	}
	return brokers, topic, nil
}

// Open is not supported: a topic cannot be read twice in row order.
func (Driver) Open(context.Context, string) (raster.Reader, error) {
	return nil, fmt.Errorf("%w: kafka input", raster.ErrUnsupported)
}

func (d Driver) Create(_ context.Context, path string, h raster.Header) (raster.Writer, error) {
	brokers, topic, err := ParseTarget(path)
	if err != nil {
		return nil, err
	}
	sc, err := d.SaramaConfig()
	if err != nil {
		return nil, err
	}
	mk := d.NewProducer
	if mk == nil {
		mk = sarama.NewSyncProducer
	}
	p, err := mk(brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("kafka: producer: %w", err)
	}
	return &Writer{
		hdr:     h,
		topic:   topic,
		p:       p,
		written: make([]bool, h.Rows),
		headers: []sarama.RecordHeader{
			{Key: []byte("rows"), Value: []byte(strconv.Itoa(h.Rows))},
			{Key: []byte("cols"), Value: []byte(strconv.Itoa(h.Cols))},
			{Key: []byte("nodata"), Value: []byte(strconv.FormatFloat(h.NoData, 'g', -1, 64))},
		},
	}, nil
}

// Writer publishes each row synchronously; rows may arrive in any order
// and carry their index as the message key.
type Writer struct {
	hdr     raster.Header
	topic   string
	p       sarama.SyncProducer
	headers []sarama.RecordHeader

	mu      sync.Mutex
	written []bool
}

func (w *Writer) WriteRow(row int, vals []float64) error {
	if err := raster.CheckRow(w.hdr, row, len(vals)); err != nil {
		return err
	}
	w.mu.Lock()
	if w.written[row] {
		w.mu.Unlock()
		return fmt.Errorf("kafka: row %d written twice", row)
	}
	w.written[row] = true
	w.mu.Unlock()

	part, off, err := w.p.SendMessage(&sarama.ProducerMessage{
		Topic:   w.topic,
		Key:     sarama.StringEncoder(strconv.Itoa(row)),
		Value:   sarama.ByteEncoder(EncodeRow(nil, row, w.hdr.NoData, vals)),
		Headers: w.headers,
	})
	if err != nil {
		return err
	}
	logging.L().Debug("kafka row produced", "topic", w.topic, "row", row, "partition", part, "offset", off)
	return nil
}

// Close shuts the producer down and fails if any row was never sent.
func (w *Writer) Close() error {
	err := w.p.Close()
	w.mu.Lock()
	defer w.mu.Unlock()
	for row, ok := range w.written {
		if !ok && err == nil {
			err = fmt.Errorf("kafka: row %d never produced", row)
		}
	}
	return err
}
