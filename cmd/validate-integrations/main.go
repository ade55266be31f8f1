package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/marcelsud/webhook-intake/integration"
)

/* validate-integrations - Standalone CLI tool to validate integrations.yaml
 * Usage: go run ./cmd/validate-integrations [integrations.yaml]
 * Exit codes: 0 = valid, 1 = invalid
 */

func main() {
	file := "integrations.yaml"
	if len(os.Args) > 1 {
		file = os.Args[1]
	}

	fmt.Printf("Validating integrations file: %s\n", file)
	fmt.Println(strings.Repeat("-", 50))

	loader := integration.NewLoader()
	if err := loader.Load(file); err != nil {
		fmt.Fprintf(os.Stderr, "VALIDATION FAILED\n\n")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	loaded := loader.List()
	fmt.Printf("VALIDATION PASSED\n\n")
	fmt.Printf("Loaded %d integration(s):\n", len(loaded))

	missingSecrets := 0
	for i, in := range loaded {
		fmt.Printf("\n%d. Integration: %s\n", i+1, in.ID)
		if in.Name != "" {
			fmt.Printf("   Name:     %s\n", in.Name)
		}
		fmt.Printf("   Platform: %s\n", in.Platform)
		fmt.Printf("   Endpoint: /webhooks/%s/%s\n", in.Platform, in.ID)

		switch {
		case in.WebhookSecret != "":
			fmt.Printf("   Secret:   configured\n")
		case in.SecretEnv != "":
			fmt.Printf("   Secret:   MISSING (%s is not set)\n", in.SecretEnv)
			missingSecrets++
		default:
			fmt.Printf("   Secret:   MISSING\n")
			missingSecrets++
		}
	}

	if missingSecrets > 0 {
		fmt.Printf("\n%d integration(s) will reject every delivery until a secret is set\n", missingSecrets)
		os.Exit(1)
	}
	fmt.Printf("\nAll integrations are valid!\n")
}
