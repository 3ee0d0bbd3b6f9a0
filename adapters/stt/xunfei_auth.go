package stt

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// BuildAuthURL signs the websocket handshake the way the IAT service expects.
// The HMAC signature is base64 encoded into the authorization header value, which
// is base64 encoded again and passed with date and host as query parameters.
func BuildAuthURL(endpoint, apiKey, apiSecret string, now time.Time) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid speech endpoint %q: %w", endpoint, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid speech endpoint %q: missing host", endpoint)
	}

	path := u.Path
	if path == "" {
		path = "/"
	}
	date := now.UTC().Format(http.TimeFormat)

	signatureOrigin := fmt.Sprintf("host: %s\ndate: %s\nGET %s HTTP/1.1", u.Host, date, path)
	mac := hmac.New(sha256.New, []byte(apiSecret))
	mac.Write([]byte(signatureOrigin))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	authorizationOrigin := fmt.Sprintf(
		`api_key="%s", algorithm="hmac-sha256", headers="host date request-line", signature="%s"`,
		apiKey, signature)
	authorization := base64.StdEncoding.EncodeToString([]byte(authorizationOrigin))

	query := url.Values{}
	query.Set("authorization", authorization)
	query.Set("date", date)
	query.Set("host", u.Host)
	u.RawQuery = query.Encode()

	return u.String(), nil
}
