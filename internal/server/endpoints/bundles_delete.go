package endpoints

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/averros/scanstage/internal/api"
	"github.com/averros/scanstage/internal/svcctx"
)

// DeleteBundleEndpoint handles DELETE /api/bundles/{id}.
type DeleteBundleEndpoint struct{}

func (e *DeleteBundleEndpoint) Route() (string, string, http.HandlerFunc) {
	return "DELETE", "/api/bundles/{id}", e.handler
}

func (e *DeleteBundleEndpoint) RequiresInit() bool { return true }

func (e *DeleteBundleEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "bundle id is required")
		return
	}

	svc := svcctx.BundlesFrom(r.Context())
	if svc == nil {
		writeError(w, http.StatusServiceUnavailable, "server not fully initialized")
		return
	}

	if err := svc.Delete(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (e *DeleteBundleEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an unpushed bundle and its staged pages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			if err := client.Delete(cmd.Context(), "/api/bundles/"+args[0]); err != nil {
				return err
			}
			fmt.Printf("Bundle %s deleted\n", args[0])
			return nil
		},
	}
}
