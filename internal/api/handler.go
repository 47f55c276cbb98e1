// Package api is the request boundary of one interview instance. Every
// endpoint validates the capability token before any state change, and all
// terminal transitions funnel through the instance's completion guard.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/parley/internal/questions"
	"github.com/kalambet/parley/internal/session"
	"github.com/kalambet/parley/internal/webui"
)

// maxRequestBodySize bounds every POST body during the streaming read; an
// oversized payload is rejected without buffering it whole.
const maxRequestBodySize = 15 << 20

// Deps wires the handler to its owning instance.
type Deps struct {
	Instance  *session.Instance
	UploadDir string
	Logger    *slog.Logger
}

// NewHandler builds the HTTP surface for one interview instance.
func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	r := chi.NewRouter()
	r.Get("/", handleForm(deps))
	r.Get("/health", handleHealth(deps))
	r.Get("/sessions", handleSessions(deps))
	r.Post("/heartbeat", handleHeartbeat(deps))
	r.Post("/cancel", handleCancel(deps))
	r.Post("/submit", handleSubmit(deps))
	return r
}

// queryAuthorized checks the session token carried as a query parameter on
// GET endpoints.
func queryAuthorized(w http.ResponseWriter, r *http.Request, deps Deps) bool {
	if !tokenValid(r.URL.Query().Get("session"), deps.Instance.Token()) {
		httpError(w, http.StatusForbidden, "", "invalid or missing session token")
		return false
	}
	return true
}

// decodeBody reads a length-limited JSON body into v, mapping oversize to
// 413 and malformed JSON to 400. Returns false when a response was written.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			httpError(w, http.StatusRequestEntityTooLarge, "", "request body exceeds %d bytes", maxErr.Limit)
			return false
		}
		httpError(w, http.StatusBadRequest, "", "invalid request body: %v", err)
		return false
	}
	return true
}

func handleForm(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !queryAuthorized(w, r, deps) {
			return
		}
		if deps.Instance.Completed() {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprint(w, "<p>This interview has already completed. You can close this tab.</p>")
			return
		}

		// Loading the page counts as the first liveness signal.
		deps.Instance.Heartbeat()

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := webui.RenderForm(w, deps.Instance.Set(), deps.Instance.Token()); err != nil {
			deps.Logger.Error("rendering form failed", "error", err)
		}
	}
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !queryAuthorized(w, r, deps) {
			return
		}
		writeOK(w, nil)
	}
}

func handleSessions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !queryAuthorized(w, r, deps) {
			return
		}
		listed := deps.Instance.Sessions().List()
		writeOK(w, map[string]any{"sessions": listed})
	}
}

type heartbeatRequest struct {
	Token string `json:"token"`
}

func handleHeartbeat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req heartbeatRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if !tokenValid(req.Token, deps.Instance.Token()) {
			httpError(w, http.StatusForbidden, "", "invalid or missing session token")
			return
		}
		deps.Instance.Heartbeat()
		writeOK(w, nil)
	}
}

type cancelRequest struct {
	Token  string `json:"token"`
	Reason string `json:"reason,omitempty"`
}

func handleCancel(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req cancelRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if !tokenValid(req.Token, deps.Instance.Token()) {
			httpError(w, http.StatusForbidden, "", "invalid or missing session token")
			return
		}

		// Cancelling an already-completed session succeeds idempotently with
		// no further effects.
		if deps.Instance.Completed() {
			writeOK(w, nil)
			return
		}

		reason := req.Reason
		if reason == "" {
			reason = session.ReasonUser
		}
		switch reason {
		case session.ReasonUser, session.ReasonTimeout, session.ReasonStale:
		default:
			httpError(w, http.StatusBadRequest, "", "unknown cancel reason %q", reason)
			return
		}

		if _, err := deps.Instance.Complete(reason, nil, ""); err != nil {
			// Recovery persistence is the fallback-of-last-resort; its
			// failure is the one error this path must surface.
			httpError(w, http.StatusInternalServerError, "", "saving recovery state: %v", err)
			return
		}
		writeOK(w, nil)
	}
}

type submitRequest struct {
	Token      string            `json:"token"`
	Responses  []responsePayload `json:"responses"`
	Images     []imagePayload    `json:"images,omitempty"`
	Transcript string            `json:"transcript,omitempty"`
}

type responsePayload struct {
	ID          string `json:"id"`
	Value       any    `json:"value"`
	Attachments any    `json:"attachments,omitempty"`
}

func handleSubmit(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req submitRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if !tokenValid(req.Token, deps.Instance.Token()) {
			httpError(w, http.StatusForbidden, "", "invalid or missing session token")
			return
		}
		if deps.Instance.Completed() {
			httpError(w, http.StatusConflict, "", "session already completed")
			return
		}

		set := deps.Instance.Set()
		answers, field, err := validateResponses(set, req.Responses)
		if err != nil {
			httpError(w, http.StatusBadRequest, field, "%v", err)
			return
		}

		// Validate every upload before any file is written so a rejected
		// submit has no partial effects.
		decoded, field, err := validateImages(req.Images, set)
		if err != nil {
			httpError(w, http.StatusBadRequest, field, "%v", err)
			return
		}
		paths, err := writeImages(deps.UploadDir, decoded)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "", "storing uploaded images: %v", err)
			return
		}
		answers = mergeImages(set, answers, decoded, paths)

		ok, err := deps.Instance.Complete(session.ReasonSubmitted, answers, req.Transcript)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "", "completing session: %v", err)
			return
		}
		if !ok {
			// A concurrent trigger won the completion guard between the
			// check above and here.
			httpError(w, http.StatusConflict, "", "session already completed")
			return
		}
		writeOK(w, nil)
	}
}

// validateResponses checks every answer against the question set: known id,
// value shape matching the question type, attachments as a string list. The
// returned field names the offending answer.
func validateResponses(set *questions.Set, payload []responsePayload) ([]session.Answer, string, error) {
	answers := make([]session.Answer, 0, len(payload))
	for _, p := range payload {
		q := set.ByID(p.ID)
		if q == nil {
			return nil, p.ID, fmt.Errorf("unknown question id %q", p.ID)
		}

		a := session.Answer{ID: p.ID}
		switch q.Type {
		case questions.TypeSingle, questions.TypeText:
			s, ok := p.Value.(string)
			if !ok {
				return nil, p.ID, fmt.Errorf("question %q expects a single string value", p.ID)
			}
			a.Value = s
		case questions.TypeMulti:
			vals, ok := stringList(p.Value)
			if !ok {
				return nil, p.ID, fmt.Errorf("question %q expects an array of strings", p.ID)
			}
			a.Value = vals
		case questions.TypeImage:
			vals, ok := stringList(p.Value)
			if !ok && p.Value != nil {
				return nil, p.ID, fmt.Errorf("question %q expects an array of stored file paths", p.ID)
			}
			a.Value = vals
		}

		if p.Attachments != nil {
			atts, ok := stringList(p.Attachments)
			if !ok {
				return nil, p.ID, fmt.Errorf("attachments for question %q must be an array of strings", p.ID)
			}
			a.Attachments = atts
		}
		answers = append(answers, a)
	}
	return answers, "", nil
}

// stringList converts a decoded JSON value to []string. nil converts to an
// empty list; anything other than an array of strings fails.
func stringList(v any) ([]string, bool) {
	if v == nil {
		return []string{}, true
	}
	raw, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

// mergeImages folds stored upload paths into the answer list: into the
// answer's image list for image questions, into its attachment list
// otherwise, synthesizing an answer when none exists for that question yet.
func mergeImages(set *questions.Set, answers []session.Answer, imgs []decodedImage, paths []string) []session.Answer {
	for n, img := range imgs {
		idx := -1
		for i := range answers {
			if answers[i].ID == img.questionID {
				idx = i
				break
			}
		}
		if idx == -1 {
			answers = append(answers, session.Answer{ID: img.questionID})
			idx = len(answers) - 1
		}

		if set.ByID(img.questionID).Type == questions.TypeImage {
			list, _ := answers[idx].Value.([]string)
			answers[idx].Value = append(list, paths[n])
		} else {
			answers[idx].Attachments = append(answers[idx].Attachments, paths[n])
		}
	}
	return answers
}
