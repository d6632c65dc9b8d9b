// Package exp serves the contents of the metrics registry over HTTP as a
// flat JSON document, one entry per metric.
package exp

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tos-network/refilld/log"
	"github.com/tos-network/refilld/metrics"
)

// Exp registers a metrics dump handler on http.DefaultServeMux under
// "/debug/metrics".
func Exp(r metrics.Registry) {
	http.Handle("/debug/metrics", ExpHandler(r))
}

// ExpHandler returns a handler exposing the given registry.
func ExpHandler(r metrics.Registry) http.Handler {
	return &exp{registry: r}
}

// Setup starts a dedicated metrics server at the given address. This keeps
// the metrics surface off the service listener entirely.
func Setup(address string) {
	m := http.NewServeMux()
	m.Handle("/debug/metrics", ExpHandler(metrics.DefaultRegistry))
	log.Info("Starting metrics server", "addr", fmt.Sprintf("http://%s/debug/metrics", address))
	go func() {
		if err := http.ListenAndServe(address, m); err != nil {
			log.Error("Failure in running metrics server", "err", err)
		}
	}()
}

type exp struct {
	registry metrics.Registry
}

func (e *exp) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	// Suffixes match the InfluxDB reporter so a metric keeps one name
	// across both surfaces.
	values := make(map[string]int64)
	e.registry.Each(func(name string, i interface{}) {
		switch m := i.(type) {
		case metrics.Counter:
			values[name+".count"] = m.Count()
		case metrics.Gauge:
			values[name+".gauge"] = m.Snapshot().Value()
		}
	})

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(values); err != nil {
		log.Warn("Failed to encode metrics dump", "err", err)
	}
}
