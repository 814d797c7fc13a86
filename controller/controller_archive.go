package controller

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/whispernet/whispernet/controller/archive"
	"github.com/whispernet/whispernet/controller/capture"
)

// Register adds the websocket and the archive routes to r
func (ctr *Controller) Register(r *mux.Router) {
	r.HandleFunc("/api/ws", ctr.HandleFunc)
	r.HandleFunc("/api/sessions", ctr.handleListSessions).Methods(http.MethodGet)
	r.HandleFunc("/api/sessions/{id}", ctr.handleGetSession).Methods(http.MethodGet)
	r.HandleFunc("/api/sessions/{id}", ctr.handleDeleteSession).Methods(http.MethodDelete)
	r.HandleFunc("/api/sessions/{id}/capture", ctr.handleGetCapture).Methods(http.MethodGet)
}

func (ctr *Controller) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if !ctr.archiveEnabled(w) {
		return
	}
	list, err := ctr.opts.Archive.List()
	if err != nil {
		ctr.httpError(w, r, err)
		return
	}
	if list == nil {
		list = []archive.Summary{}
	}
	writeJSON(w, list)
}

func (ctr *Controller) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if !ctr.archiveEnabled(w) {
		return
	}
	rec, err := ctr.opts.Archive.Get(mux.Vars(r)["id"])
	if err != nil {
		ctr.httpError(w, r, err)
		return
	}
	writeJSON(w, rec)
}

func (ctr *Controller) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if !ctr.archiveEnabled(w) {
		return
	}
	if err := ctr.opts.Archive.Delete(mux.Vars(r)["id"]); err != nil {
		ctr.httpError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Serve an archived session as a pcap file of carrier frames
func (ctr *Controller) handleGetCapture(w http.ResponseWriter, r *http.Request) {
	if !ctr.archiveEnabled(w) {
		return
	}
	rec, err := ctr.opts.Archive.Get(mux.Vars(r)["id"])
	if err != nil {
		ctr.httpError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.tcpdump.pcap")
	w.Header().Set("Content-Disposition", "attachment; filename=\""+rec.ID+".pcap\"")
	if err := capture.WriteFile(w, capture.DefaultCarrier(), rec.StartTime(), rec.Packets); err != nil {
		ctr.log.Error("write capture", "session", rec.ID, "err", err)
	}
}

func (ctr *Controller) archiveEnabled(w http.ResponseWriter) bool {
	if ctr.opts.Archive == nil {
		http.Error(w, "Archive disabled", http.StatusNotFound)
		return false
	}
	return true
}

func (ctr *Controller) httpError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, archive.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	ctr.log.Error("archive request", "path", r.URL.Path, "err", err)
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
