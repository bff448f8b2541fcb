package endpoints

import (
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/averros/scanstage/internal/api"
	"github.com/averros/scanstage/internal/chore"
	"github.com/averros/scanstage/internal/svcctx"
)

// ChoreView is the JSON shape of one chore record.
type ChoreView struct {
	ID         string `json:"id"`
	BundleID   string `json:"bundle_id"`
	Kind       string `json:"kind"`
	Status     string `json:"status"`
	WorkerID   string `json:"worker_id,omitempty"`
	Message    string `json:"message,omitempty"`
	Progress   int    `json:"progress"`
	Total      int    `json:"total"`
	Obsolete   bool   `json:"obsolete"`
	CreatedAt  string `json:"created_at"`
	LastUpdate string `json:"last_update"`
}

func choreView(c *chore.Chore) ChoreView {
	return ChoreView{
		ID:         c.ID,
		BundleID:   c.BundleID,
		Kind:       string(c.Kind),
		Status:     string(c.Status),
		WorkerID:   c.WorkerID,
		Message:    c.Message,
		Progress:   c.Progress,
		Total:      c.Total,
		Obsolete:   c.Obsolete,
		CreatedAt:  c.CreatedAt.Format(time.RFC3339),
		LastUpdate: c.LastUpdate.Format(time.RFC3339),
	}
}

// ListChoresResponse wraps the chore listing.
type ListChoresResponse struct {
	Chores []ChoreView `json:"chores"`
}

// ListChoresEndpoint handles GET /api/chores. An optional bundle query
// parameter filters by bundle.
type ListChoresEndpoint struct{}

func (e *ListChoresEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/chores", e.handler
}

func (e *ListChoresEndpoint) RequiresInit() bool { return true }

func (e *ListChoresEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	chores := svcctx.ChoresFrom(r.Context())
	if chores == nil {
		writeError(w, http.StatusServiceUnavailable, "server not fully initialized")
		return
	}

	list, err := chores.List(r.Context(), r.URL.Query().Get("bundle"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := ListChoresResponse{Chores: make([]ChoreView, 0, len(list))}
	for _, c := range list {
		resp.Chores = append(resp.Chores, choreView(c))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (e *ListChoresEndpoint) Command(getServerURL func() string) *cobra.Command {
	var bundleID string
	cmd := &cobra.Command{
		Use:   "chores",
		Short: "List background chores",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/chores"
			if bundleID != "" {
				path += "?bundle=" + bundleID
			}
			client := api.NewClient(getServerURL())
			var resp ListChoresResponse
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&bundleID, "bundle", "", "only show chores for this bundle")
	return cmd
}

// GetChoreEndpoint handles GET /api/chores/{id}.
type GetChoreEndpoint struct{}

func (e *GetChoreEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/chores/{id}", e.handler
}

func (e *GetChoreEndpoint) RequiresInit() bool { return true }

func (e *GetChoreEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "chore id is required")
		return
	}

	chores := svcctx.ChoresFrom(r.Context())
	if chores == nil {
		writeError(w, http.StatusServiceUnavailable, "server not fully initialized")
		return
	}

	c, err := chores.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, choreView(c))
}

func (e *GetChoreEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "chore <id>",
		Short: "Get one chore by ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp ChoreView
			if err := client.Get(cmd.Context(), "/api/chores/"+args[0], &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
