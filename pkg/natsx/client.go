package natsx

import (
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
)

// Connect opens a connection to the NATS server at url. Without options the
// connection is named "garden" and uses compression. An empty url falls back to
// nats.DefaultURL.
func Connect(url string, opts ...nats.Option) (*nats.Conn, error) {
	if len(opts) == 0 {
		opts = append(opts, nats.Name("garden"), nats.Compression(true))
	}
	if url == "" {
		url = nats.DefaultURL
	}
	return nats.Connect(url, opts...)
}

// KeyValue binds to the JetStream key-value bucket, creating it when it doesn't exist.
func KeyValue(nc *nats.Conn, bucket string) (nats.KeyValue, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	kv, err := js.KeyValue(bucket)
	if err == nil {
		return kv, nil
	}
	if !errors.Is(err, nats.ErrBucketNotFound) {
		return nil, fmt.Errorf("bind bucket %s: %w", bucket, err)
	}
	kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
		Bucket:      bucket,
		Description: "garden conversation histories",
	})
	if err != nil {
		return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
	}
	return kv, nil
}
