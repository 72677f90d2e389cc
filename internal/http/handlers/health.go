package handlers

import (
	"net/http"
)

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Models lists the capability table so clients can build valid specs.
func (a *App) Models(w http.ResponseWriter, r *http.Request) {
	if a.Catalog == nil {
		a.json(w, http.StatusOK, map[string]any{"items": []any{}})
		return
	}
	a.json(w, http.StatusOK, map[string]any{"items": a.Catalog.Models()})
}
