package server

import (
	"net/http"
	"strings"
)

// CredentialSource names where a bearer credential was found.
type CredentialSource string

const (
	SourceAuthorizationHeader CredentialSource = "authorization-header"
	SourceQueryToken          CredentialSource = "query-token"
	SourceWebsocketProtocol   CredentialSource = "websocket-protocol"
)

// Credential is a bearer token extracted from a connection handshake,
// tagged with the source it came from.
type Credential struct {
	Token  string
	Source CredentialSource
}

// ExtractCredential checks the handshake's credential sources in a fixed
// order and returns the first hit: the Authorization header, then the
// "token" query parameter, then a bearer entry in Sec-WebSocket-Protocol.
// The second return value is false when no source carried a credential.
func ExtractCredential(r *http.Request) (Credential, bool) {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		if token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer ")); token != "" {
			return Credential{Token: token, Source: SourceAuthorizationHeader}, true
		}
	}

	if token := r.URL.Query().Get("token"); token != "" {
		return Credential{Token: token, Source: SourceQueryToken}, true
	}

	// Browser WebSocket clients can't set headers, so some smuggle the token
	// as a subprotocol pair: "bearer, <token>".
	for _, proto := range r.Header.Values("Sec-WebSocket-Protocol") {
		parts := strings.Split(proto, ",")
		for i := 0; i < len(parts)-1; i++ {
			if strings.EqualFold(strings.TrimSpace(parts[i]), "bearer") {
				if token := strings.TrimSpace(parts[i+1]); token != "" {
					return Credential{Token: token, Source: SourceWebsocketProtocol}, true
				}
			}
		}
	}

	return Credential{}, false
}
