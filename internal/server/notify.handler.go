package server

import (
	"card-key-shop/internal/domain"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	notifySuccess = "success"
	notifyFail    = "fail"
	maxNotifyBody = 16 << 10
)

func (s *Server) handleNotify(c *gin.Context) {
	params, err := notificationParams(c.Request)
	if err != nil {
		s.logger.Warn("unreadable notification", "operation", "notify", "error", err)
		c.String(http.StatusBadRequest, notifyFail)
		return
	}

	_, err = s.deps.Reconcile.HandleNotification(c.Request.Context(), params)
	switch {
	case err == nil:
		c.String(http.StatusOK, notifySuccess)
	case errors.Is(err, domain.ErrAuthenticationFailed), errors.Is(err, domain.ErrMalformedNotification):
		c.String(http.StatusBadRequest, notifyFail)
	default:
		// Not acknowledged, so the gateway delivers it again.
		s.logger.Error("notification not processed", "operation", "notify", "error", err)
		c.String(http.StatusInternalServerError, notifyFail)
	}
}

// notificationParams reads the query string for GET, the form for form-encoded POSTs
// and a raw query-encoded body otherwise. Repeated keys keep their first value.
func notificationParams(r *http.Request) (map[string]string, error) {
	var values url.Values
	switch {
	case r.Method != http.MethodPost:
		values = r.URL.Query()
	case strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data"):
		if err := r.ParseMultipartForm(maxNotifyBody); err != nil {
			return nil, err
		}
		values = r.Form
	case strings.Contains(r.Header.Get("Content-Type"), "form"):
		if err := r.ParseForm(); err != nil {
			return nil, err
		}
		values = r.Form
	default:
		body, err := io.ReadAll(io.LimitReader(r.Body, maxNotifyBody))
		if err != nil {
			return nil, err
		}
		if values, err = url.ParseQuery(strings.TrimSpace(string(body))); err != nil {
			return nil, err
		}
		if len(values) == 0 {
			values = r.URL.Query()
		}
	}

	params := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	return params, nil
}
