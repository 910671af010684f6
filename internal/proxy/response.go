package proxy

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/CK-Technology/ghostpanel/internal/observability"
	"github.com/CK-Technology/ghostpanel/internal/util"
)

// errorResponse is the JSON body sent for every proxy-generated
// rejection.
type errorResponse struct {
	Error      bool   `json:"error"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// respondError maps an error through the taxonomy and writes the
// structured JSON body. Rate limited responses carry Retry-After in
// both the header and the body.
func (p *Proxy) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := util.HTTPStatus(err)
	code := util.ErrorCode(err)

	p.metrics.RecordError(code)

	resp := errorResponse{
		Error:   true,
		Code:    code,
		Message: err.Error(),
	}

	var rateErr *util.RateLimitError
	if errors.As(err, &rateErr) && rateErr.RetryAfter > 0 {
		seconds := int(math.Ceil(rateErr.RetryAfter.Seconds()))
		if seconds < 1 {
			seconds = 1
		}
		resp.RetryAfter = seconds
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
	}

	if status >= http.StatusInternalServerError {
		p.logger.Error("request failed",
			observability.String("path", r.URL.Path),
			observability.Int("status", status),
			observability.String("code", code),
			observability.Error(err),
		)
	} else {
		p.logger.Debug("request rejected",
			observability.String("path", r.URL.Path),
			observability.Int("status", status),
			observability.String("code", code),
		)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
