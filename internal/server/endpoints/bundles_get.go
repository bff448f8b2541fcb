package endpoints

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/averros/scanstage/internal/api"
	"github.com/averros/scanstage/internal/bundle"
	"github.com/averros/scanstage/internal/staging"
	"github.com/averros/scanstage/internal/svcctx"
)

// PageView is the operator-facing view of one staged page.
type PageView struct {
	Order    int      `json:"order"`
	Type     string   `json:"type"`
	Rotation int      `json:"rotation"`
	Pushed   bool     `json:"pushed"`
	Paper    int      `json:"paper,omitempty"`
	Page     int      `json:"page,omitempty"`
	Version  int      `json:"version,omitempty"`
	Question []int    `json:"questions,omitempty"`
	Reason   string   `json:"reason,omitempty"`
	History  []string `json:"history,omitempty"`
}

// GetBundleResponse combines bundle status with its page listing.
type GetBundleResponse struct {
	*bundle.Status

	Pages []PageView `json:"pages,omitempty"`
}

// GetBundleEndpoint handles GET /api/bundles/{id}.
type GetBundleEndpoint struct{}

func (e *GetBundleEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/bundles/{id}", e.handler
}

func (e *GetBundleEndpoint) RequiresInit() bool { return true }

func (e *GetBundleEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "bundle id is required")
		return
	}

	svc := svcctx.BundlesFrom(r.Context())
	db := svcctx.DBFrom(r.Context())
	if svc == nil || db == nil {
		writeError(w, http.StatusServiceUnavailable, "server not fully initialized")
		return
	}

	status, err := svc.Status(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	imgs, err := staging.ImagesByBundle(r.Context(), db.Querier(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := GetBundleResponse{Status: status}
	for _, img := range imgs {
		pv := PageView{
			Order:    img.BundleOrder,
			Type:     string(img.Type),
			Rotation: img.Rotation,
			Pushed:   img.Pushed,
			Reason:   img.Reason,
			History:  img.History,
		}
		if img.Known != nil {
			pv.Paper = img.Known.Paper
			pv.Page = img.Known.Page
			pv.Version = img.Known.Version
		}
		if img.Extra != nil {
			pv.Paper = img.Extra.Paper
			pv.Question = img.Extra.Questions
		}
		resp.Pages = append(resp.Pages, pv)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (e *GetBundleEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Get a bundle's status and page listing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp GetBundleResponse
			if err := client.Get(cmd.Context(), "/api/bundles/"+args[0], &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
