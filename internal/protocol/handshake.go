package protocol

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// SupportedVersion is the only Faktory wire protocol version this client
// speaks. A greeting advertising anything else is rejected before HELLO is
// even built.
const SupportedVersion = 2

// Identity carries the fields a worker (as opposed to a producer-only
// client) adds to its HELLO.
type Identity struct {
	WID    string
	PID    int
	Labels []string
}

// hello mirrors the JSON object sent as the HELLO payload. Fields use
// omitempty so a producer-only client (Identity == nil) omits wid/pid/labels
// entirely, and a server greeting without a salt omits pwdhash.
type hello struct {
	V       int      `json:"v"`
	Hostname string   `json:"hostname"`
	WID      string   `json:"wid,omitempty"`
	PID      int      `json:"pid,omitempty"`
	Labels   []string `json:"labels,omitempty"`
	PWDHash  string   `json:"pwdhash,omitempty"`
}

// Handshake validates the server's greeting, builds and sends HELLO, and
// asserts the reply is OK. identity is nil for a producer-only client.
// password is the empty string when no credentials are configured.
func Handshake(c *Connection, greeting Greeting, hostname string, identity *Identity, password string) error {
	if greeting.V != SupportedVersion {
		return fmt.Errorf("protocol: handshake: %w", &VersionMismatchError{Got: greeting.V, Want: SupportedVersion})
	}

	h := hello{V: SupportedVersion, Hostname: hostname}
	if identity != nil {
		h.WID = identity.WID
		h.PID = identity.PID
		h.Labels = identity.Labels
	}
	if greeting.S != "" && password != "" {
		h.PWDHash = pwdhash(password, greeting.S, greeting.I)
	}

	payload, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("protocol: handshake: marshal HELLO: %w", err)
	}

	if err := c.SendWithAssert("OK", "HELLO", string(payload)); err != nil {
		return fmt.Errorf("protocol: handshake: %w", err)
	}
	return nil
}

// pwdhash computes the hex digest Faktory expects: the i-th iterated
// SHA-256 starting from sha256(password||salt); each successive iteration
// hashes the *raw bytes* of the previous digest, not its hex encoding.
func pwdhash(password, salt string, iterations int) string {
	sum := sha256.Sum256([]byte(password + salt))
	digest := sum[:]
	for i := 1; i < iterations; i++ {
		next := sha256.Sum256(digest)
		digest = next[:]
	}
	return hex.EncodeToString(digest)
}

// VersionMismatchError reports a server greeting advertising a protocol
// version this client does not speak.
type VersionMismatchError struct{ Got, Want int }

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("protocol: server speaks version %d, this client speaks version %d", e.Got, e.Want)
}
