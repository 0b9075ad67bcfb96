package whatsapp

import (
	"strings"
)

// Artifact is the normalized pairing payload: a QR data-URL or a formatted
// pairing code, whichever the gateway produced.
type Artifact struct {
	QRCode      string `json:"qrcode,omitempty"`
	PairingCode string `json:"pairing_code,omitempty"`
}

// ExtractArtifact normalizes the pairing payload out of a connect response.
// The gateway's contract was never pinned down, so several nesting shapes are
// tolerated; anything unrecognized is an extraction failure, not a guess.
func ExtractArtifact(resp *Response, instanceName string) (*Artifact, bool) {
	if resp == nil {
		return nil, false
	}

	// Bare base64 body, no JSON envelope at all.
	if resp.Data == nil {
		if looksLikeBase64(resp.Body) {
			return &Artifact{QRCode: qrDataURL(strings.TrimSpace(string(resp.Body)))}, true
		}
		return nil, false
	}

	switch v := resp.Data.(type) {
	case string:
		if looksLikeBase64([]byte(v)) {
			return &Artifact{QRCode: qrDataURL(v)}, true
		}
		return nil, false
	case map[string]interface{}:
		if art, ok := artifactFromObject(v); ok {
			return art, true
		}
		return nil, false
	case []interface{}:
		// A list of sessions; pick ours by name.
		for _, item := range v {
			obj, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			if sessionName(obj) != instanceName {
				continue
			}
			if art, ok := artifactFromObject(obj); ok {
				return art, true
			}
		}
		return nil, false
	}
	return nil, false
}

// artifactFromObject walks the tolerated shapes: qrcode as string, qrcode as
// {base64}, a data envelope (one or two levels), top-level base64, and the
// pairingCode variants.
func artifactFromObject(obj map[string]interface{}) (*Artifact, bool) {
	art := &Artifact{}

	if qr := qrFromValue(obj["qrcode"]); qr != "" {
		art.QRCode = qr
	}
	if art.QRCode == "" {
		if s, ok := obj["base64"].(string); ok && s != "" {
			art.QRCode = qrDataURL(s)
		}
	}
	if code := pairingFromObject(obj); code != "" {
		art.PairingCode = code
	}

	if art.QRCode == "" && art.PairingCode == "" {
		if data, ok := obj["data"].(map[string]interface{}); ok {
			return artifactFromObject(data)
		}
		return nil, false
	}
	return art, true
}

func qrFromValue(v interface{}) string {
	switch q := v.(type) {
	case string:
		if q != "" {
			return qrDataURL(q)
		}
	case map[string]interface{}:
		if s, ok := q["base64"].(string); ok && s != "" {
			return qrDataURL(s)
		}
	}
	return ""
}

func pairingFromObject(obj map[string]interface{}) string {
	for _, k := range []string{"pairingCode", "pairing_code", "code"} {
		if s, ok := obj[k].(string); ok && s != "" {
			return FormatPairingCode(s)
		}
	}
	return ""
}

func sessionName(obj map[string]interface{}) string {
	for _, k := range []string{"instanceName", "instance_name", "name"} {
		if s, ok := obj[k].(string); ok && s != "" {
			return s
		}
	}
	if inst, ok := obj["instance"].(map[string]interface{}); ok {
		return sessionName(inst)
	}
	return ""
}

// qrDataURL ensures the QR payload is a renderable data URL.
func qrDataURL(s string) string {
	if strings.HasPrefix(s, "data:") {
		return s
	}
	return "data:image/png;base64," + s
}

// FormatPairingCode normalizes an 8-character pairing code to XXXX-XXXX.
func FormatPairingCode(code string) string {
	cleaned := make([]rune, 0, len(code))
	for _, r := range code {
		switch {
		case r >= '0' && r <= '9', r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z':
			cleaned = append(cleaned, r)
		}
	}
	if len(cleaned) != 8 {
		return code
	}
	return string(cleaned[:4]) + "-" + string(cleaned[4:])
}

// ExtractSessionToken pulls the instance-scoped credential out of a create
// response, tolerating the hash/instance nesting variants.
func ExtractSessionToken(resp *Response) string {
	obj, ok := resp.Data.(map[string]interface{})
	if !ok {
		return ""
	}
	return sessionTokenFromObject(obj, 0)
}

func sessionTokenFromObject(obj map[string]interface{}, depth int) string {
	if s, ok := obj["hash"].(string); ok && s != "" {
		return s
	}
	if h, ok := obj["hash"].(map[string]interface{}); ok {
		if s, ok := h["apikey"].(string); ok && s != "" {
			return s
		}
	}
	if inst, ok := obj["instance"].(map[string]interface{}); ok {
		for _, k := range []string{"token", "apikey", "instanceToken"} {
			if s, ok := inst[k].(string); ok && s != "" {
				return s
			}
		}
	}
	if depth == 0 {
		if data, ok := obj["data"].(map[string]interface{}); ok {
			return sessionTokenFromObject(data, 1)
		}
	}
	return ""
}

// ConnectedState reports whether a status response carries a positive
// connection signal.
func ConnectedState(resp *Response) bool {
	if resp == nil {
		return false
	}
	obj, ok := resp.Data.(map[string]interface{})
	if !ok {
		return false
	}
	return stateFromObject(obj, 0) == "connected"
}

func stateFromObject(obj map[string]interface{}, depth int) string {
	for _, k := range []string{"state", "status", "connectionStatus"} {
		if s, ok := obj[k].(string); ok && s != "" {
			return normalizeState(s)
		}
	}
	if depth < 2 {
		for _, k := range []string{"instance", "data"} {
			if nested, ok := obj[k].(map[string]interface{}); ok {
				if s := stateFromObject(nested, depth+1); s != "" {
					return s
				}
			}
		}
	}
	return ""
}

func normalizeState(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "open", "connected":
		return "connected"
	case "connecting":
		return "connecting"
	case "close", "closed", "disconnected":
		return "disconnected"
	default:
		return strings.ToLower(strings.TrimSpace(s))
	}
}
