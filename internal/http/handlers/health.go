package handlers

import (
	"net/http"
	"time"
)

type healthBody struct {
	Status  string    `json:"status"`
	Service string    `json:"service"`
	Time    time.Time `json:"time"`
}

// Health reports liveness only; it does not touch the database or the queue.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, healthBody{Status: "ok", Service: "video-batch-api", Time: time.Now().UTC()})
}
