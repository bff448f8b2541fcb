package endpoints

import (
	"github.com/averros/scanstage/internal/api"
)

// All returns all endpoint instances.
func All() []api.Endpoint {
	return []api.Endpoint{
		// Health endpoints
		&HealthEndpoint{},
		&ReadyEndpoint{},

		// Bundle endpoints
		&UploadBundleEndpoint{},
		&ListBundlesEndpoint{},
		&GetBundleEndpoint{},
		&DeleteBundleEndpoint{},
		&MapPageEndpoint{},
		&PushBundleEndpoint{},

		// Chore endpoints
		&ListChoresEndpoint{},
		&GetChoreEndpoint{},
	}
}
