package inbound

import "net/http"

// NewMux wires the federation HTTP surface onto a standard mux. Either
// component may be nil when a node only exposes part of the surface.
func NewMux(intake *Intake, reader *ActorReader) *http.ServeMux {
	mux := http.NewServeMux()
	if intake != nil {
		mux.HandleFunc("POST /inbox", intake.HandleInbox)
		mux.HandleFunc("POST /users/{id}/inbox", intake.HandleInbox)
	}
	if reader != nil {
		mux.HandleFunc("GET /users/{id}", reader.HandleActor)
		mux.HandleFunc("GET /users/{id}/publickey", reader.HandleActorKey)
	}
	return mux
}
