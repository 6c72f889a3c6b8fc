package providers

import (
	"errors"
	"fmt"

	"github.com/loomlabs/loom/internal/transport"
	"github.com/loomlabs/loom/pkg/models"
)

// ProviderError wraps a provider failure with its classification. Raw vendor
// errors never leave this package unclassified.
type ProviderError struct {
	Provider   string
	Model      string
	StatusCode int
	Cat        models.ErrorCategory
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Provider, e.Cat, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Cat, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Category implements models.Categorized.
func (e *ProviderError) Category() models.ErrorCategory { return e.Cat }

// wrapError classifies err for a provider. Status-coded errors map through
// the transport table; connection and DNS failures become network errors.
func wrapError(provider, model string, statusCode int, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	cat := models.CategoryOf(err)
	if statusCode > 0 {
		cat = transport.CategoryForStatus(statusCode)
	} else if cat == models.ErrUnknown && transport.RetryableError(err) {
		cat = models.ErrNetwork
	}
	return &ProviderError{
		Provider:   provider,
		Model:      model,
		StatusCode: statusCode,
		Cat:        cat,
		Err:        err,
	}
}
