package cmd

import (
	"log"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/efortin/toolsift/pkg/proxy"
)

var (
	port          string
	targetURL     string
	toolsFile     string
	idleTimeout   string
	model         string
	maxValueBytes int
	maxNameBytes  int
	noEntities    bool
	validateNames bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the extraction HTTP service",
	Long: `Start the HTTP service around the extraction library.

The service exposes:
- POST /v1/extract          batch extraction of one tool call
- POST /v1/extract/stream   SSE event stream over the request body
- GET  /v1/stream           WebSocket chunk ingest
- GET  /v1/tools            tool registry (when --tools-file is set)
- GET  /healthz, /metrics   liveness and Prometheus metrics

When --target-url is set, unmatched paths are relayed to the upstream and
streamed chat completion responses are rewritten: an XML tool element in
the assistant output is re-emitted as an OpenAI-style tool_calls chunk.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		config := &proxy.Config{
			Port:                    port,
			TargetURL:               targetURL,
			ToolsFile:               toolsFile,
			IdleTimeout:             idleTimeout,
			Model:                   model,
			MaxParameterValueLength: maxValueBytes,
			MaxToolNameLength:       maxNameBytes,
			DisableEntityDecoding:   noEntities,
			ValidateNames:           validateNames,
		}

		server, err := proxy.NewServer(config)
		if err != nil {
			return err
		}
		defer server.Stop()

		log.Printf("🚀 Starting toolsift on :%s", port)
		if targetURL != "" {
			log.Printf("   Relay target: %s", targetURL)
		}
		if toolsFile != "" {
			log.Printf("   Tool registry: %s", toolsFile)
		}
		log.Printf("   Limits: value=%s name=%s entities=%v",
			limitString(maxValueBytes), limitString(maxNameBytes), !noEntities)

		return server.Start()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&port, "port", getEnvOrDefault("TOOLSIFT_PORT", "8080"), "HTTP server port")
	serveCmd.Flags().StringVar(&targetURL, "target-url", getEnvOrDefault("TOOLSIFT_TARGET", ""), "Upstream base URL to relay unmatched paths to")
	serveCmd.Flags().StringVar(&toolsFile, "tools-file", getEnvOrDefault("TOOLSIFT_TOOLS_FILE", ""), "YAML tool registry file")
	serveCmd.Flags().StringVar(&idleTimeout, "idle-timeout", getEnvOrDefault("TOOLSIFT_IDLE_TIMEOUT", "5m"), "WebSocket read deadline")
	serveCmd.Flags().StringVar(&model, "model", getEnvOrDefault("TOOLSIFT_MODEL", ""), "Model name hint for token accounting")
	serveCmd.Flags().IntVar(&maxValueBytes, "max-value-bytes", getEnvIntOrDefault("TOOLSIFT_MAX_VALUE_BYTES", 0), "Cap on a single parameter value in bytes (0 = unbounded)")
	serveCmd.Flags().IntVar(&maxNameBytes, "max-name-bytes", getEnvIntOrDefault("TOOLSIFT_MAX_NAME_BYTES", 0), "Cap on the tag name accumulator in bytes (0 = default 256)")
	serveCmd.Flags().BoolVar(&noEntities, "no-entity-decoding", false, "Leave XML entity references verbatim in values")
	serveCmd.Flags().BoolVar(&validateNames, "validate-names", false, "Reject tag names outside letters, digits, '_', '-' and '.'")
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func limitString(n int) string {
	if n <= 0 {
		return "default"
	}
	return strconv.Itoa(n)
}
