package history

import (
	"context"
	"errors"

	"github.com/casualjim/garden/pkg/natsx"
	"github.com/nats-io/nats.go"
)

// NATSBackend stores documents in a JetStream key-value bucket. Keys are history
// keys verbatim, which only use characters NATS accepts in KV keys.
type NATSBackend struct {
	nc *nats.Conn
	kv nats.KeyValue
}

// OpenNATS connects to url and binds to bucket, creating it if needed.
func OpenNATS(url, bucket string) (*NATSBackend, error) {
	nc, err := natsx.Connect(url)
	if err != nil {
		return nil, err
	}
	kv, err := natsx.KeyValue(nc, bucket)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return &NATSBackend{nc: nc, kv: kv}, nil
}

func (n *NATSBackend) Name() string { return "nats" }

func (n *NATSBackend) Put(ctx context.Context, key string, doc []byte) error {
	_, err := n.kv.Put(key, doc)
	return err
}

func (n *NATSBackend) Get(ctx context.Context, key string) ([]byte, error) {
	entry, err := n.kv.Get(key)
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return entry.Value(), nil
}

func (n *NATSBackend) Delete(ctx context.Context, key string) error {
	err := n.kv.Delete(key)
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nil
	}
	return err
}

func (n *NATSBackend) Close() error {
	n.nc.Close()
	return nil
}
