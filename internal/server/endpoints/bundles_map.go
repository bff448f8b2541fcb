package endpoints

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/averros/scanstage/internal/api"
	"github.com/averros/scanstage/internal/assessment"
	"github.com/averros/scanstage/internal/bundle"
	"github.com/averros/scanstage/internal/staging"
	"github.com/averros/scanstage/internal/svcctx"
)

// MapPageRequest maps one staged page onto a destination: either a paper
// plus a question selection (cast to extra), or a discard.
type MapPageRequest struct {
	Paper int `json:"paper,omitempty"`

	// Questions is "all", "dnm", or an explicit question-index array.
	Questions json.RawMessage `json:"questions,omitempty"`

	Discard    bool   `json:"discard,omitempty"`
	Reason     string `json:"reason,omitempty"`
	AssertType string `json:"assert_type,omitempty"`
	Actor      string `json:"actor,omitempty"`
}

// MapPageEndpoint handles POST /api/bundles/{id}/pages/{pos}/map.
type MapPageEndpoint struct{}

func (e *MapPageEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/bundles/{id}/pages/{pos}/map", e.handler
}

func (e *MapPageEndpoint) RequiresInit() bool { return true }

func (e *MapPageEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	pos, err := strconv.Atoi(r.PathValue("pos"))
	if err != nil || pos < 1 {
		writeError(w, http.StatusBadRequest, "page position must be a positive integer")
		return
	}

	db := svcctx.DBFrom(r.Context())
	spec := svcctx.SpecFrom(r.Context())
	if db == nil || spec == nil {
		writeError(w, http.StatusServiceUnavailable, "server not fully initialized")
		return
	}

	var req MapPageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	cast, err := buildMapCast(spec, req)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	err = db.WithTx(r.Context(), func(tx *sql.Tx) error {
		b, err := bundle.Get(r.Context(), tx, id)
		if err != nil {
			return err
		}
		img, err := staging.ImageByOrder(r.Context(), tx, id, pos)
		if err != nil {
			return err
		}
		imgs, err := staging.ImagesByBundle(r.Context(), tx, id)
		if err != nil {
			return err
		}
		if err := staging.Cast(img, cast, b.Flags(), staging.KnownSlots(imgs)); err != nil {
			return err
		}
		return staging.SaveImage(r.Context(), tx, img)
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// buildMapCast translates a map request into a cast request.
func buildMapCast(spec *assessment.Spec, req MapPageRequest) (staging.CastRequest, error) {
	actor := req.Actor
	if actor == "" {
		actor = "map"
	}

	if req.Discard {
		reason := req.Reason
		if reason == "" {
			reason = "discarded by map command"
		}
		return staging.CastRequest{
			Target:     staging.TypeDiscard,
			AssertType: staging.ImageType(req.AssertType),
			Reason:     reason,
			Actor:      actor,
		}, nil
	}

	if !spec.ValidPaper(req.Paper) {
		return staging.CastRequest{}, staging.Inputf("paper %d is not part of this assessment", req.Paper)
	}
	questions, err := parseQuestionSelection(spec, req.Questions)
	if err != nil {
		return staging.CastRequest{}, err
	}
	return staging.CastRequest{
		Target:     staging.TypeExtra,
		AssertType: staging.ImageType(req.AssertType),
		Extra:      &staging.ExtraInfo{Paper: req.Paper, Questions: questions},
		Actor:      actor,
	}, nil
}

// parseQuestionSelection accepts "all", "dnm", or an explicit index array.
// The do-not-mark sentinel is stored as the singleton list [0].
func parseQuestionSelection(spec *assessment.Spec, raw json.RawMessage) ([]int, error) {
	if len(raw) == 0 {
		return nil, staging.Inputf("a question selection is required")
	}

	var word string
	if err := json.Unmarshal(raw, &word); err == nil {
		switch word {
		case "all":
			return spec.AllQuestions(), nil
		case "dnm":
			return []int{staging.DoNotMarkQuestion}, nil
		default:
			return nil, staging.Inputf("unknown question selection %q", word)
		}
	}

	var list []int
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, staging.Inputf("questions must be \"all\", \"dnm\", or an index array")
	}
	if len(list) == 0 {
		return nil, staging.Inputf("question list must not be empty")
	}
	for _, q := range list {
		if !spec.ValidQuestion(q) {
			return nil, staging.Inputf("question %d is not part of this assessment", q)
		}
	}
	sort.Ints(list)
	return list, nil
}

func (e *MapPageEndpoint) Command(getServerURL func() string) *cobra.Command {
	var paper int
	var questions string
	var discard bool
	var reason string
	cmd := &cobra.Command{
		Use:   "map <bundle-id> <position>",
		Short: "Map a staged page onto a paper's questions, or discard it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := MapPageRequest{Discard: discard, Reason: reason, Paper: paper}
			if !discard {
				req.Questions = encodeQuestionFlag(questions)
			}
			client := api.NewClient(getServerURL())
			path := fmt.Sprintf("/api/bundles/%s/pages/%s/map", args[0], args[1])
			if err := client.Post(cmd.Context(), path, req, nil); err != nil {
				return err
			}
			fmt.Println("page mapped")
			return nil
		},
	}
	cmd.Flags().IntVar(&paper, "paper", 0, "destination paper number")
	cmd.Flags().StringVar(&questions, "questions", "all", `question selection: "all", "dnm", or comma-separated indices`)
	cmd.Flags().BoolVar(&discard, "discard", false, "discard the page instead of mapping it")
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded with a discard")
	return cmd
}

// encodeQuestionFlag turns the CLI question flag into the JSON the map
// endpoint expects.
func encodeQuestionFlag(flag string) json.RawMessage {
	switch flag {
	case "all", "dnm":
		b, _ := json.Marshal(flag)
		return b
	}
	var list []int
	for _, part := range strings.Split(flag, ",") {
		q, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			b, _ := json.Marshal(flag)
			return b
		}
		list = append(list, q)
	}
	b, _ := json.Marshal(list)
	return b
}
