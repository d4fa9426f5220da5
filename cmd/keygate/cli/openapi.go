package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/keygate/keygate/internal/openapi"
)

func newOpenAPICmd() *cobra.Command {
	var (
		baseURL    string
		outputFile string
	)

	cmd := &cobra.Command{
		Use:   "openapi",
		Short: "Generate the OpenAPI specification",
		Long:  `Generate the OpenAPI 3.1 document for the keygate HTTP API.`,
		Example: `  keygate openapi
  keygate openapi --base-url https://keys.example.com -o openapi.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOpenAPI(baseURL, outputFile)
		},
	}

	cmd.Flags().StringVar(&baseURL, "base-url", "", "Server URL to embed in the document")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Write spec to file instead of stdout")

	return cmd
}

func runOpenAPI(baseURL, outputFile string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	doc := openapi.Generate(openapi.Options{
		BaseURL:      baseURL,
		Version:      versionString(),
		APIKeyHeader: cfg.Auth.APIKeyHeader,
		CookieName:   cfg.Gate.CookieName,
	})

	jsonBytes, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal openapi document: %w", err)
	}

	if outputFile == "" {
		fmt.Println(string(jsonBytes))
		return nil
	}
	if err := os.WriteFile(outputFile, append(jsonBytes, '\n'), 0644); err != nil {
		return fmt.Errorf("write %s: %w", outputFile, err)
	}
	fmt.Fprintf(os.Stderr, "Wrote %s\n", outputFile)
	return nil
}
