package provider

import (
	"errors"
	"fmt"
)

// ErrStreamConsumed is yielded when a Stream is iterated a second time.
var ErrStreamConsumed = errors.New("stream already consumed")

// ConfigurationError means the adapter has no credential to call its backend.
type ConfigurationError struct {
	Adapter    AdapterID
	Credential string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s API key not found. Set %s environment variable.", e.Adapter.DisplayName(), e.Credential)
}

// UnsupportedInputError means the current message carries an attachment the model
// can't accept.
type UnsupportedInputError struct {
	Adapter AdapterID
	Model   string
	Input   Modality
}

func (e *UnsupportedInputError) Error() string {
	return fmt.Sprintf("%s model %s does not accept %s input", e.Adapter.DisplayName(), e.Model, e.Input)
}

// ProviderError wraps any failure that came back from the backend or its transport.
type ProviderError struct {
	Adapter AdapterID
	Cause   error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %v", e.Adapter, e.Cause)
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// Wrap turns err into a *ProviderError unless it already belongs to the taxonomy.
func Wrap(adapter AdapterID, err error) error {
	if err == nil {
		return nil
	}
	var (
		cfgErr *ConfigurationError
		inErr  *UnsupportedInputError
		prvErr *ProviderError
	)
	if errors.As(err, &cfgErr) || errors.As(err, &inErr) || errors.As(err, &prvErr) {
		return err
	}
	return &ProviderError{Adapter: adapter, Cause: err}
}
