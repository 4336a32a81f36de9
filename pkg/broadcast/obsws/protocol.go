package obsws

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/MrWong99/censorbot/pkg/broadcast"
)

// Subprotocol is the WebSocket subprotocol for JSON-encoded messages.
const Subprotocol = "obswebsocket.json"

// rpcVersion is the only RPC version this client speaks.
const rpcVersion = 1

// OpCodes of the v5 protocol used by this client.
const (
	opHello           = 0
	opIdentify        = 1
	opIdentified      = 2
	opEvent           = 5
	opRequest         = 6
	opRequestResponse = 7
)

// Close codes the server uses to reject a session.
const (
	closeAuthenticationFailed = 4009
	closeUnsupportedRPC       = 4010
)

// codeResourceNotFound is the request status code for a missing resource.
const codeResourceNotFound = 600

// ── Envelope ─────────────────────────────────────────────────────────────────

type envelope struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
}

// ── Handshake ────────────────────────────────────────────────────────────────

type helloMsg struct {
	OBSWebSocketVersion string `json:"obsWebSocketVersion"`
	RPCVersion          int    `json:"rpcVersion"`
	Authentication      *struct {
		Challenge string `json:"challenge"`
		Salt      string `json:"salt"`
	} `json:"authentication,omitempty"`
}

type identifyMsg struct {
	RPCVersion         int    `json:"rpcVersion"`
	Authentication     string `json:"authentication,omitempty"`
	EventSubscriptions int    `json:"eventSubscriptions"`
}

type identifiedMsg struct {
	NegotiatedRPCVersion int `json:"negotiatedRpcVersion"`
}

// authResponse computes the Identify authentication string:
// base64(sha256(base64(sha256(password + salt)) + challenge)).
func authResponse(password, salt, challenge string) string {
	secret := sha256.Sum256([]byte(password + salt))
	secretB64 := base64.StdEncoding.EncodeToString(secret[:])
	auth := sha256.Sum256([]byte(secretB64 + challenge))
	return base64.StdEncoding.EncodeToString(auth[:])
}

// ── Requests ─────────────────────────────────────────────────────────────────

type requestMsg struct {
	RequestType string `json:"requestType"`
	RequestID   string `json:"requestId"`
	RequestData any    `json:"requestData,omitempty"`
}

type requestStatus struct {
	Result  bool   `json:"result"`
	Code    int    `json:"code"`
	Comment string `json:"comment,omitempty"`
}

type responseMsg struct {
	RequestType   string          `json:"requestType"`
	RequestID     string          `json:"requestId"`
	RequestStatus requestStatus   `json:"requestStatus"`
	ResponseData  json.RawMessage `json:"responseData,omitempty"`
}

// RequestError is returned when OBS answers a request with a failed status.
type RequestError struct {
	Type    string
	Code    int
	Comment string
}

func (e *RequestError) Error() string {
	if e.Comment == "" {
		return fmt.Sprintf("obsws: %s failed with code %d", e.Type, e.Code)
	}
	return fmt.Sprintf("obsws: %s failed with code %d: %s", e.Type, e.Code, e.Comment)
}

// Is reports a ResourceNotFound status as [broadcast.ErrNotFound].
func (e *RequestError) Is(target error) bool {
	return target == broadcast.ErrNotFound && e.Code == codeResourceNotFound
}
