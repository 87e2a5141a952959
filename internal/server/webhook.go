package server

import (
	"io"
	"net/http"

	"github.com/pmichalski/copydesk/internal/processor"
)

// WebhookHandler receives processor confirmation events. The signature is
// checked against the raw body before anything is parsed; a bad signature
// is the only non-2xx outcome. Processing errors are logged and counted
// but the event is still acknowledged, otherwise an error inside one
// branch would trigger a redelivery storm.
func (s *Server) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	signature := r.Header.Get(processor.SignatureHeader)
	if err := processor.VerifySignature(body, signature, s.config.WebhookSecret); err != nil {
		s.deps.Logger.Warnw("webhook signature rejected", "error", err)
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	event, err := processor.ParseEvent(body)
	if err != nil {
		s.webhooks.RecordMalformed(err)
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := s.webhooks.Handle(r.Context(), event); err != nil {
		s.deps.Logger.Errorw("webhook reconciliation failed", "session", event.SessionID, "error", err)
	}

	w.WriteHeader(http.StatusOK)
}
