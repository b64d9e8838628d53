// Package session owns one PTY plus its stream interpreter, history
// ring, execution records, and attached-client set, and enforces the
// client protocol described in spec.md §4.4/§6.
package session

// OutMessage is a server-to-client protocol frame (§6).
type OutMessage struct {
	Type string `json:"type"`

	// snapshot / output
	Data string `json:"data,omitempty"`

	// meta
	Title *string `json:"title,omitempty"`
	Cwd   *string `json:"cwd,omitempty"`
	Env   *string `json:"env,omitempty"`
	Cols  uint16  `json:"cols,omitempty"`
	Rows  uint16  `json:"rows,omitempty"`

	// status
	Status string  `json:"status,omitempty"`
	Code   *int    `json:"code,omitempty"`
	Signal *string `json:"signal,omitempty"`
}

// InMessage is a client-to-server protocol frame (§6).
type InMessage struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`
	Cols int     `json:"cols,omitempty"`
	Rows int     `json:"rows,omitempty"`
}

const (
	outSnapshot = "snapshot"
	outMeta     = "meta"
	outOutput   = "output"
	outStatus   = "status"
	outPong     = "pong"

	inInput  = "input"
	inResize = "resize"
	inPing   = "ping"

	statusReady      = "ready"
	statusTerminated = "terminated"
)

// maxDimension is the resize clamp for both cols and rows named in
// spec.md §4.4.
const maxDimension = 500
