package endpoints

import (
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/averros/scanstage/internal/api"
	"github.com/averros/scanstage/internal/bundle"
	"github.com/averros/scanstage/internal/svcctx"
)

// UploadBundleResponse is returned when a bundle is accepted.
type UploadBundleResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	PageCount int    `json:"page_count"`
	ChoreID   string `json:"chore_id"`
}

// UploadBundleEndpoint handles POST /api/bundles/upload with a multipart
// PDF upload. Accepted bundles start splitting in the background.
type UploadBundleEndpoint struct{}

var _ api.Endpoint = (*UploadBundleEndpoint)(nil)

func (e *UploadBundleEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/bundles/upload", e.handler
}

func (e *UploadBundleEndpoint) RequiresInit() bool { return true }

func (e *UploadBundleEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	svc := svcctx.BundlesFrom(r.Context())
	pipeline := svcctx.PipelineFrom(r.Context())
	cfg := svcctx.ConfigFrom(r.Context())
	if svc == nil || pipeline == nil || cfg == nil {
		writeError(w, http.StatusServiceUnavailable, "server not fully initialized")
		return
	}
	upload := cfg.Get().Upload

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to parse form: %v", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file uploaded")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, upload.MaxBytes+1))
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to read upload: %v", err))
		return
	}

	name := r.FormValue("name")
	if name == "" {
		name = header.Filename
	}

	b, err := svc.Upload(r.Context(), bundle.UploadRequest{
		Name:       name,
		Data:       data,
		UploadedBy: r.FormValue("uploaded_by"),
		Force:      r.FormValue("force") == "true",
		MaxBytes:   upload.MaxBytes,
		MaxPages:   upload.MaxPages,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	ch, err := pipeline.StartSplit(r.Context(), b)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("bundle stored but splitting failed to start: %v", err))
		return
	}

	writeJSON(w, http.StatusAccepted, UploadBundleResponse{
		ID:        b.ID,
		Name:      b.Name,
		PageCount: b.PageCount,
		ChoreID:   ch.ID,
	})
}

func (e *UploadBundleEndpoint) Command(getServerURL func() string) *cobra.Command {
	var force bool
	var uploadedBy string
	cmd := &cobra.Command{
		Use:   "upload <pdf>",
		Short: "Upload a scanned bundle PDF",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			fields := map[string]string{}
			if force {
				fields["force"] = "true"
			}
			if uploadedBy != "" {
				fields["uploaded_by"] = uploadedBy
			}
			var resp UploadBundleResponse
			if err := client.PostFile(cmd.Context(), "/api/bundles/upload", args[0], fields, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "upload even if an identical bundle exists")
	cmd.Flags().StringVar(&uploadedBy, "uploaded-by", "", "name recorded as the uploader")
	return cmd
}
