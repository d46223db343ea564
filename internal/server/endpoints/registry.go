package endpoints

import (
	"github.com/tutorkit/primer/internal/api"
)

// Config holds dependencies needed by some endpoints.
type Config struct {
	SwaggerSpecPath string
}

// All returns all endpoint instances.
func All(cfg Config) []api.Endpoint {
	return []api.Endpoint{
		// Health endpoints
		&HealthEndpoint{},
		&ReadyEndpoint{},
		&MetricsEndpoint{},

		// Pipeline endpoints
		&BulkUploadEndpoint{},
		&GenerateGuidelinesEndpoint{},
		&FinalizeEndpoint{},
		&RetryOCREndpoint{},

		// Job endpoints
		&LatestJobEndpoint{},
		&GetJobEndpoint{},

		// Read endpoints
		&GetGuidelinesEndpoint{},
		&ListPagesEndpoint{},

		// Swagger/OpenAPI endpoints
		&SwaggerEndpoint{SpecPath: cfg.SwaggerSpecPath},
		&SwaggerUIEndpoint{},
	}
}
