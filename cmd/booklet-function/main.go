package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/Lllllllleong/bookletflow/internal/services"
)

var (
	bookletInstance *services.BookletFunction
	once            sync.Once
	initErr         error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.CloudEvent("MakeBooklet", makeBooklet)
}

// main is required by the Go Functions Framework.
func main() {}

// makeBooklet is the Cloud Function entry point for storage finalize events.
func makeBooklet(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		var config services.BookletConfig
		config, initErr = services.LoadBookletConfig()
		if initErr != nil {
			return
		}
		if config.ProjectID == "" {
			initErr = fmt.Errorf("PROJECT_ID environment variable must be set")
			return
		}
		if config.OutputBucket == "" {
			initErr = fmt.Errorf("OUTPUT_BUCKET environment variable must be set")
			return
		}
		bookletInstance, initErr = services.NewBooklet(context.Background(), config)
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var gcsEvent services.GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	// Errors are logged with context by the pipeline; returning one marks
	// the invocation as failed.
	return bookletInstance.HandleUpload(ctx, gcsEvent)
}
