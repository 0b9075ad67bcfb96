package whatsapp

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/guonaihong/gout"
	"github.com/guonaihong/gout/dataflow"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Operation is a logical gateway call; each one maps to an ordered list of
// candidate routes because the gateway's exact path/version differs across
// deployments.
type Operation string

const (
	OpCreate  Operation = "create"
	OpConnect Operation = "connect"
	OpStatus  Operation = "status"
	OpLogout  Operation = "logout"
	OpDelete  Operation = "delete"
	OpSend    Operation = "send"
)

type candidate struct {
	method string
	path   string // {name} is replaced with the instance name
}

// operationCandidates accounts for singular/plural route naming and the
// optional version prefix observed across gateway deployments. Order matters:
// the first 2xx wins.
var operationCandidates = map[Operation][]candidate{
	OpCreate: {
		{http.MethodPost, "/instance/create"},
		{http.MethodPost, "/instances/create"},
		{http.MethodPost, "/v1/instance/create"},
		{http.MethodPost, "/v1/instances/create"},
	},
	OpConnect: {
		{http.MethodGet, "/instance/connect/{name}"},
		{http.MethodGet, "/instances/connect/{name}"},
		{http.MethodGet, "/v1/instance/connect/{name}"},
		{http.MethodGet, "/instance/qrcode/{name}"},
	},
	OpStatus: {
		{http.MethodGet, "/instance/connectionState/{name}"},
		{http.MethodGet, "/instances/connectionState/{name}"},
		{http.MethodGet, "/v1/instance/connectionState/{name}"},
		{http.MethodGet, "/instance/status/{name}"},
	},
	OpLogout: {
		{http.MethodDelete, "/instance/logout/{name}"},
		{http.MethodDelete, "/instances/logout/{name}"},
		{http.MethodDelete, "/v1/instance/logout/{name}"},
	},
	OpDelete: {
		{http.MethodDelete, "/instance/delete/{name}"},
		{http.MethodDelete, "/instances/delete/{name}"},
		{http.MethodDelete, "/v1/instance/delete/{name}"},
	},
	OpSend: {
		{http.MethodPost, "/message/sendText/{name}"},
		{http.MethodPost, "/messages/sendText/{name}"},
		{http.MethodPost, "/v1/message/sendText/{name}"},
	},
}

// Response is a successful gateway reply. Data holds the decoded JSON value
// and is nil when the body was empty or a tolerated non-JSON payload.
type Response struct {
	Code int
	Body []byte
	Data interface{}
}

var (
	// ErrExhausted means every candidate route for an operation failed.
	ErrExhausted = errors.New("whatsapp: all gateway endpoint candidates failed")
	// ErrConflict is a 409 on create: a session with that name already exists
	// server-side. The caller recovers with delete-then-retry exactly once.
	ErrConflict = errors.New("whatsapp: gateway session name already exists")
	// ErrNotFound means the gateway answered for the route but reported the
	// session gone (a structured 404, as opposed to an HTML "wrong route" 404).
	ErrNotFound = errors.New("whatsapp: gateway session not found")
)

// Prober executes one logical operation against an ordered list of candidate
// routes, first success wins. All retry behavior lives here, nowhere else.
type Prober struct {
	base string
	auth *Negotiator
	g    *dataflow.Gout
}

func NewProber(gatewayURL string, auth *Negotiator, hc *http.Client) *Prober {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Prober{
		base: strings.TrimRight(gatewayURL, "/"),
		auth: auth,
		g:    gout.New(hc),
	}
}

// Call runs op against each candidate route until one succeeds. When token is
// non-empty it is the session token issued for this instance and takes the
// place of the negotiated credential; otherwise the negotiator decides the
// header scheme.
func (p *Prober) Call(ctx context.Context, op Operation, name string, token string, body interface{}, query map[string]string) (*Response, error) {
	headers, err := p.headers(ctx, token)
	if err != nil {
		return nil, err
	}

	cands, okOp := operationCandidates[op]
	if !okOp {
		return nil, errors.Errorf("whatsapp: unknown gateway operation %q", op)
	}

	var lastErr error
	for _, cand := range cands {
		url := p.base + strings.ReplaceAll(cand.path, "{name}", name)

		var raw []byte
		code := 0
		df := p.route(cand.method, url).
			WithContext(ctx).
			SetHeader(headers)
		if body != nil {
			df = df.SetJSON(body)
		}
		if len(query) > 0 {
			df = df.SetQuery(query)
		}
		if err := df.Code(&code).BindBody(&raw).Do(); err != nil {
			lastErr = err
			zap.L().Debug("whatsapp: gateway candidate unreachable",
				zap.String("op", string(op)), zap.String("url", url), zap.Error(err))
			continue
		}

		switch {
		case code == http.StatusConflict && op == OpCreate:
			return nil, errors.Wrapf(ErrConflict, "create %s", name)

		case code == http.StatusNotFound:
			// A structured 404 means the route answered and the session is
			// gone; an HTML 404 means we guessed the wrong route variant.
			if _, jsonOK := decodeJSON(raw); jsonOK {
				return nil, errors.Wrapf(ErrNotFound, "%s %s", op, name)
			}
			lastErr = errors.Errorf("%s %s returned 404", cand.method, url)
			continue

		case code >= 200 && code < 300:
			if len(bytes.TrimSpace(raw)) == 0 {
				return &Response{Code: code, Body: raw}, nil
			}
			data, jsonOK := decodeJSON(raw)
			if !jsonOK {
				// Gateways sometimes return an HTML page or a bare base64
				// payload where JSON was expected. Bare base64 is a valid
				// pairing artifact; anything else moves to the next candidate.
				if op == OpConnect && looksLikeBase64(raw) {
					return &Response{Code: code, Body: raw}, nil
				}
				lastErr = errors.Errorf("%s %s returned unparseable body", cand.method, url)
				continue
			}
			return &Response{Code: code, Body: raw, Data: data}, nil

		default:
			lastErr = errors.Errorf("%s %s returned %d", cand.method, url, code)
			continue
		}
	}

	if lastErr != nil {
		return nil, errors.Wrapf(ErrExhausted, "%s: %s", op, lastErr.Error())
	}
	return nil, errors.Wrapf(ErrExhausted, "%s", op)
}

func (p *Prober) route(method, url string) *dataflow.DataFlow {
	switch method {
	case http.MethodPost:
		return p.g.POST(url)
	case http.MethodDelete:
		return p.g.DELETE(url)
	case http.MethodPut:
		return p.g.PUT(url)
	default:
		return p.g.GET(url)
	}
}

// headers picks the header scheme from the tagged credential. A session token
// is always presented as an apikey, matching how the gateway issues them.
func (p *Prober) headers(ctx context.Context, token string) (gout.H, error) {
	if token != "" {
		return gout.H{"apikey": token}, nil
	}
	cred, err := p.auth.Authenticate(ctx)
	if err != nil {
		return nil, err
	}
	if cred.Kind == CredentialSigned {
		return gout.H{"Authorization": "Bearer " + cred.Value}, nil
	}
	return gout.H{"apikey": cred.Value}, nil
}

// decodeJSON parses raw leniently; ok is false for HTML or any unparseable
// body so the caller can continue probing.
func decodeJSON(raw []byte) (interface{}, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, false
	}
	if trimmed[0] != '{' && trimmed[0] != '[' && trimmed[0] != '"' {
		return nil, false
	}
	var data interface{}
	if err := jsonx.Unmarshal(trimmed, &data); err != nil {
		return nil, false
	}
	return data, true
}

// looksLikeBase64 reports whether raw is plausibly a bare base64 image payload
// (or already a data URL).
func looksLikeBase64(raw []byte) bool {
	s := strings.TrimSpace(string(raw))
	if strings.HasPrefix(s, "data:image") {
		return true
	}
	if len(s) < 32 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		case r == '+', r == '/', r == '=':
		default:
			return false
		}
	}
	return true
}
