package whatsapp

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/guonaihong/gout"
	"github.com/guonaihong/gout/dataflow"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/REFFIX-BR/acaiteria-sub001/config"
)

var jsonx = jsoniter.ConfigCompatibleWithStandardLibrary

// CredentialKind tags how the gateway credential must be presented.
type CredentialKind string

const (
	// CredentialSigned is a login-derived signed token, sent as a Bearer header.
	CredentialSigned CredentialKind = "signed"
	// CredentialStatic is a deployment apikey, sent as an apikey header.
	CredentialStatic CredentialKind = "static"
)

// Credential is the tagged value produced once by the negotiator and threaded
// through the prober, so the header scheme is never re-inferred per call.
type Credential struct {
	Kind  CredentialKind
	Value string
}

// loginCandidates are the manager login routes observed across gateway
// deployments, tried in order.
var loginCandidates = []string{
	"/login",
	"/auth/login",
	"/api/auth/login",
	"/manager/login",
}

const tokenTTL = 24 * time.Hour

var (
	// ErrNoCredentials means neither an apikey nor a login pair is configured.
	ErrNoCredentials = errors.New("whatsapp: no gateway credentials configured")
	// ErrAuthExhausted means every login candidate failed and no apikey exists.
	ErrAuthExhausted = errors.New("whatsapp: cannot authenticate with gateway")
)

// Negotiator resolves which authentication mode to use against the gateway
// and caches a login-derived token for 24 hours.
type Negotiator struct {
	cfg config.WhatsappConfig
	g   *dataflow.Gout
	now func() time.Time

	sf singleflight.Group

	mu     sync.Mutex
	cached *Credential
	expiry time.Time
}

func NewNegotiator(cfg config.WhatsappConfig, hc *http.Client) *Negotiator {
	if hc == nil {
		hc = &http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second}
	}
	return &Negotiator{
		cfg: cfg,
		g:   gout.New(hc),
		now: time.Now,
	}
}

// Authenticate returns the credential to use for gateway calls. A cached
// login-derived token is reused until its expiry; a static apikey needs no
// network call. Callers must treat an error as "cannot proceed", not retry.
func (n *Negotiator) Authenticate(ctx context.Context) (*Credential, error) {
	n.mu.Lock()
	if n.cached != nil && n.now().Before(n.expiry) {
		cred := *n.cached
		n.mu.Unlock()
		return &cred, nil
	}
	n.mu.Unlock()

	if n.cfg.LoginAccount != "" && n.cfg.LoginSecret != "" {
		v, err, _ := n.sf.Do("login", func() (interface{}, error) {
			return n.deriveToken(ctx)
		})
		if err == nil {
			cred := *(v.(*Credential))
			return &cred, nil
		}
		zap.L().Warn("whatsapp: gateway login failed on all candidates", zap.Error(err))
		if n.cfg.Apikey == "" {
			return nil, errors.Wrap(ErrAuthExhausted, err.Error())
		}
		// fall back to the static key
	}

	if n.cfg.Apikey != "" {
		cred := classifyCredential(n.cfg.Apikey)
		return &cred, nil
	}
	return nil, ErrNoCredentials
}

// deriveToken attempts the login candidates in order and caches the first
// token-shaped response for tokenTTL.
func (n *Negotiator) deriveToken(ctx context.Context) (*Credential, error) {
	base := strings.TrimRight(n.cfg.GatewayURL, "/")
	var lastErr error
	for _, path := range loginCandidates {
		var body []byte
		code := 0
		err := n.g.POST(base+path).
			WithContext(ctx).
			SetJSON(gout.H{
				"email":    n.cfg.LoginAccount,
				"login":    n.cfg.LoginAccount,
				"password": n.cfg.LoginSecret,
			}).
			Code(&code).
			BindBody(&body).
			Do()
		if err != nil {
			lastErr = err
			zap.L().Debug("whatsapp: login candidate unreachable", zap.String("path", path), zap.Error(err))
			continue
		}
		if code < 200 || code >= 300 {
			lastErr = errors.Errorf("login %s returned %d", path, code)
			continue
		}
		token := extractLoginToken(body)
		if token == "" {
			lastErr = errors.Errorf("login %s returned no token-shaped field", path)
			continue
		}
		cred := classifyCredential(token)
		n.mu.Lock()
		n.cached = &cred
		n.expiry = n.now().Add(tokenTTL)
		n.mu.Unlock()
		zap.L().Info("whatsapp: gateway login ok", zap.String("path", path), zap.String("kind", string(cred.Kind)))
		return &cred, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no login candidates configured")
	}
	return nil, lastErr
}

// extractLoginToken pulls a token-shaped field out of a login response,
// tolerating the field names and nesting seen across gateway versions.
func extractLoginToken(body []byte) string {
	var payload map[string]interface{}
	if err := jsonx.Unmarshal(body, &payload); err != nil {
		return ""
	}
	keys := []string{"token", "access_token", "accessToken", "jwt"}
	for _, k := range keys {
		if s, ok := payload[k].(string); ok && s != "" {
			return s
		}
	}
	if data, ok := payload["data"].(map[string]interface{}); ok {
		for _, k := range keys {
			if s, ok := data[k].(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

// classifyCredential decides the header scheme from the credential shape:
// a parseable three-segment token is signed, anything else is a static key.
func classifyCredential(value string) Credential {
	if strings.Count(value, ".") == 2 {
		if _, _, err := jwt.NewParser().ParseUnverified(value, jwt.MapClaims{}); err == nil {
			return Credential{Kind: CredentialSigned, Value: value}
		}
	}
	return Credential{Kind: CredentialStatic, Value: value}
}
