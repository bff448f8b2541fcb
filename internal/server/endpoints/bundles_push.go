package endpoints

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/averros/scanstage/internal/api"
	"github.com/averros/scanstage/internal/svcctx"
)

// PushBundleResponse is returned when a bundle commits successfully.
type PushBundleResponse struct {
	ID     string `json:"id"`
	Pushed bool   `json:"pushed"`
}

// PushBundleEndpoint handles POST /api/bundles/{id}/push.
type PushBundleEndpoint struct{}

func (e *PushBundleEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/bundles/{id}/push", e.handler
}

func (e *PushBundleEndpoint) RequiresInit() bool { return true }

func (e *PushBundleEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "bundle id is required")
		return
	}

	pusher := svcctx.PusherFrom(r.Context())
	if pusher == nil {
		writeError(w, http.StatusServiceUnavailable, "server not fully initialized")
		return
	}

	if err := pusher.Push(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PushBundleResponse{ID: id, Pushed: true})
}

func (e *PushBundleEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "push <id>",
		Short: "Commit a perfect bundle to the papers store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp PushBundleResponse
			if err := client.Post(cmd.Context(), "/api/bundles/"+args[0]+"/push", nil, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
