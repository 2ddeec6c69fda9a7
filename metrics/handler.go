package metrics

import (
	"net/http"

	"github.com/giygas/resource-metrics-api/logging"
	"github.com/prometheus/common/expfmt"
)

// Handler serves the registry in the Prometheus text format. Families that
// fail to render are logged and left out; the rest is still served.
func Handler(registry *Registry) http.Handler {
	contentType := string(expfmt.NewFormat(expfmt.TypeTextPlain))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := registry.Render()
		if err != nil {
			logging.Warn("Metrics rendered with errors", "error", err)
			if len(body) == 0 {
				http.Error(w, "failed to render metrics", http.StatusInternalServerError)
				return
			}
		}

		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(body); err != nil {
			logging.Debug("Failed to write metrics response", "error", err)
		}
	})
}
