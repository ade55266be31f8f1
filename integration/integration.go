package integration

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/marcelsud/webhook-intake/webhook"
)

/* Integration is a tenant's configured connection to a platform
 * Read-only from the intake's point of view: only the platform and the
 * shared secret are consulted.
 */
type Integration struct {
	ID            string           `yaml:"id" validate:"required"`
	Name          string           `yaml:"name"`
	Platform      webhook.Platform `yaml:"platform" validate:"required,oneof=instagram facebook tiktok salesforce hubspot pipedrive"`
	WebhookSecret string           `yaml:"webhook_secret"`
	// SecretEnv names an environment variable holding the secret; it wins over WebhookSecret
	SecretEnv string `yaml:"webhook_secret_env"`
}

var ErrNotFound = errors.New("integration not found")

// Finder looks integrations up by id
type Finder interface {
	Find(ctx context.Context, id string) (Integration, error)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the integration configuration
func (i *Integration) Validate() error {
	if err := validate.Struct(i); err != nil {
		return fmt.Errorf("invalid integration %q: %w", i.ID, err)
	}
	return nil
}

// ResolveSecret fills WebhookSecret from SecretEnv when set
func (i *Integration) ResolveSecret() {
	if i.SecretEnv == "" {
		return
	}
	if secret := os.Getenv(i.SecretEnv); secret != "" {
		i.WebhookSecret = secret
	}
}
