package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/renderowl/backend/internal/models"
	"github.com/renderowl/backend/internal/render"
)

// SupportedEngines is the set of render engines the platform routes to.
// SubmissionCheck rejects requests with unknown engines early, before
// any ledger work.
var SupportedEngines = map[string]bool{
	"remotion": true,
	"ffmpeg":   true,
	"preview":  true,
}

// submissionProbe is the subset of the body needed for the precheck.
type submissionProbe struct {
	Engine            string  `json:"engine"`
	Priority          string  `json:"priority"`
	SceneCount        int     `json:"scene_count"`
	QualityMultiplier float64 `json:"quality_multiplier"`
}

// SubmissionCheck validates engine, priority, and cost inputs from the
// submission body, then replaces r.Body so the handler can re-read it.
func SubmissionCheck(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bodyBytes, err := io.ReadAll(r.Body)
		r.Body.Close()
		if err != nil {
			http.Error(w, `{"error":"failed to read body"}`, http.StatusBadRequest)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(bodyBytes))

		var probe submissionProbe
		if err := json.Unmarshal(bodyBytes, &probe); err != nil {
			http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
			return
		}
		if !SupportedEngines[probe.Engine] {
			writeErr(w, fmt.Sprintf("unsupported engine %q", probe.Engine))
			return
		}
		switch probe.Priority {
		case "", models.PriorityLow, models.PriorityNormal, models.PriorityHigh:
		default:
			writeErr(w, fmt.Sprintf("unknown priority %q", probe.Priority))
			return
		}
		if probe.SceneCount < 1 {
			writeErr(w, "scene_count must be at least 1")
			return
		}
		if probe.QualityMultiplier < render.MinQualityMultiplier || probe.QualityMultiplier > render.MaxQualityMultiplier {
			writeErr(w, fmt.Sprintf("quality_multiplier must be in [%.1f, %.1f]",
				render.MinQualityMultiplier, render.MaxQualityMultiplier))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeErr(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
