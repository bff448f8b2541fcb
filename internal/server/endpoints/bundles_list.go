package endpoints

import (
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/averros/scanstage/internal/api"
	"github.com/averros/scanstage/internal/bundle"
	"github.com/averros/scanstage/internal/svcctx"
)

// BundleSummary is one row in the bundle listing.
type BundleSummary struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	PageCount     int       `json:"page_count"`
	UploadedBy    string    `json:"uploaded_by,omitempty"`
	HasPageImages bool      `json:"has_page_images"`
	HasQRCodes    bool      `json:"has_qr_codes"`
	PushLocked    bool      `json:"push_locked"`
	Pushed        bool      `json:"pushed"`
	CreatedAt     time.Time `json:"created_at"`
}

// ListBundlesResponse wraps the bundle listing.
type ListBundlesResponse struct {
	Bundles []BundleSummary `json:"bundles"`
}

// ListBundlesEndpoint handles GET /api/bundles.
type ListBundlesEndpoint struct{}

func (e *ListBundlesEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/bundles", e.handler
}

func (e *ListBundlesEndpoint) RequiresInit() bool { return true }

func (e *ListBundlesEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	db := svcctx.DBFrom(r.Context())
	if db == nil {
		writeError(w, http.StatusServiceUnavailable, "database not initialized")
		return
	}

	bundles, err := bundle.List(r.Context(), db.Querier())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := ListBundlesResponse{Bundles: make([]BundleSummary, 0, len(bundles))}
	for _, b := range bundles {
		resp.Bundles = append(resp.Bundles, BundleSummary{
			ID:            b.ID,
			Name:          b.Name,
			PageCount:     b.PageCount,
			UploadedBy:    b.UploadedBy,
			HasPageImages: b.HasPageImages,
			HasQRCodes:    b.HasQRCodes,
			PushLocked:    b.PushLocked,
			Pushed:        b.Pushed,
			CreatedAt:     b.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (e *ListBundlesEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all bundles",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp ListBundlesResponse
			if err := client.Get(cmd.Context(), "/api/bundles", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
