package telephony

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	twilioclient "github.com/twilio/twilio-go/client"

	"github.com/harunnryd/voxbridge/pkg/errorsx"
)

// ErrInvalidSignature is returned when a webhook request fails
// provider signature validation.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Validator checks X-Twilio-Signature on provider webhooks.
type Validator struct {
	authToken string
	publicURL string
}

func NewValidator(authToken, publicURL string) *Validator {
	return &Validator{authToken: authToken, publicURL: publicURL}
}

// Validate returns nil when the request carries a valid provider
// signature. An empty auth token disables validation (local runs).
func (v *Validator) Validate(r *http.Request) error {
	if v.authToken == "" {
		return nil
	}
	signature := r.Header.Get("X-Twilio-Signature")
	if signature == "" {
		return errorsx.Wrap(fmt.Errorf("%w: missing X-Twilio-Signature header", ErrInvalidSignature), errorsx.ReasonTransportInvalidSignature)
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonTransportInvalidSignature)
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))

	validator := twilioclient.NewRequestValidator(v.authToken)
	reqURL := v.requestURL(r)
	if strings.Contains(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		form, err := url.ParseQuery(string(body))
		if err != nil {
			return errorsx.Wrap(err, errorsx.ReasonTransportInvalidSignature)
		}
		params := make(map[string]string, len(form))
		for k := range form {
			params[k] = form.Get(k)
		}
		if !validator.Validate(reqURL, params, signature) {
			return errorsx.Wrap(ErrInvalidSignature, errorsx.ReasonTransportInvalidSignature)
		}
		return nil
	}
	if !validator.ValidateBody(reqURL, body, signature) {
		return errorsx.Wrap(ErrInvalidSignature, errorsx.ReasonTransportInvalidSignature)
	}
	return nil
}

func (v *Validator) requestURL(r *http.Request) string {
	if v.publicURL != "" {
		base := strings.TrimRight(v.publicURL, "/")
		return base + r.URL.RequestURI()
	}
	scheme := r.URL.Scheme
	if scheme == "" {
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		} else {
			scheme = "https"
		}
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

// StreamTwiML renders the voice-webhook response that connects the call
// to the media-stream websocket.
func StreamTwiML(wsURL, greeting string) string {
	greeting = strings.TrimSpace(greeting)
	if greeting != "" {
		return `<Response><Say>` + xmlEscape(greeting) + `</Say><Connect><Stream url="` + wsURL + `"/></Connect></Response>`
	}
	return `<Response><Connect><Stream url="` + wsURL + `"/></Connect></Response>`
}

func xmlEscape(in string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		"\"", "&quot;",
		"'", "&apos;",
	)
	return replacer.Replace(in)
}
