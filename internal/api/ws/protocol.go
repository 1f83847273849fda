package ws

import (
	"encoding/json"
	"fmt"

	"github.com/bytedance/sonic"
)

// MessageType tags a gateway message.
type MessageType string

// Client to server.
const (
	TypeCreateTerminal MessageType = "create-terminal"
	TypeTerminalInput  MessageType = "terminal-input"
	TypeTerminalResize MessageType = "terminal-resize"
	TypeDeleteTerminal MessageType = "delete-terminal"
	TypePing           MessageType = "ping"
)

// Server to client.
const (
	TypeTerminalCreated MessageType = "terminal-created"
	TypeTerminalOutput  MessageType = "terminal-output"
	TypeTerminalExit    MessageType = "terminal-exit"
	TypeTerminalError   MessageType = "terminal-error"
	TypeTerminalDeleted MessageType = "terminal-deleted"
	TypePong            MessageType = "pong"
)

// Envelope is the frame every message travels in.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// CreateTerminal asks for the user's session. UserEmail is accepted as an
// alias of DisplayIdentity.
type CreateTerminal struct {
	UserID          string `json:"userId"`
	ProjectID       string `json:"projectId"`
	DisplayIdentity string `json:"displayIdentity,omitempty"`
	UserEmail       string `json:"userEmail,omitempty"`
}

func (m CreateTerminal) identity() string {
	if m.DisplayIdentity != "" {
		return m.DisplayIdentity
	}
	return m.UserEmail
}

type TerminalInput struct {
	UserID string `json:"userId"`
	Data   string `json:"data"`
}

type TerminalResize struct {
	UserID string `json:"userId"`
	Cols   int    `json:"cols"`
	Rows   int    `json:"rows"`
}

type DeleteTerminal struct {
	UserID string `json:"userId"`
}

type TerminalCreated struct {
	SessionID        string `json:"sessionId"`
	UserID           string `json:"userId"`
	Username         string `json:"username"`
	WorkingDirectory string `json:"workingDirectory"`
}

type TerminalOutput struct {
	SessionID string `json:"sessionId"`
	Data      string `json:"data"`
}

type TerminalExit struct {
	SessionID string `json:"sessionId"`
	ExitCode  int    `json:"exitCode"`
	Signal    int    `json:"signal"`
}

type TerminalError struct {
	Message string `json:"message"`
}

type TerminalDeleted struct {
	UserID  string `json:"userId"`
	Success bool   `json:"success"`
}

// userScoped is implemented by every client message that names a user.
type userScoped interface {
	user() string
}

func (m CreateTerminal) user() string { return m.UserID }
func (m TerminalInput) user() string  { return m.UserID }
func (m TerminalResize) user() string { return m.UserID }
func (m DeleteTerminal) user() string { return m.UserID }

// frames go out as WebSocket text, which must be valid UTF-8. The encoder
// replaces invalid bytes in strings with U+FFFD, so raw shell output such
// as binary noise cannot make a browser drop the socket.
var frameCodec = sonic.Config{ValidateString: true}.Froze()

// Encode builds a frame. A nil payload produces a frame with type only.
func Encode(t MessageType, payload any) ([]byte, error) {
	env := Envelope{Type: t}
	if payload != nil {
		raw, err := frameCodec.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", t, err)
		}
		env.Payload = raw
	}
	return frameCodec.Marshal(env)
}

// Decode parses a client frame into its typed message. Unknown types are
// rejected.
func Decode(frame []byte) (MessageType, any, error) {
	var env Envelope
	if err := sonic.Unmarshal(frame, &env); err != nil {
		return "", nil, fmt.Errorf("malformed message: %w", err)
	}

	var msg any
	switch env.Type {
	case TypeCreateTerminal:
		msg = &CreateTerminal{}
	case TypeTerminalInput:
		msg = &TerminalInput{}
	case TypeTerminalResize:
		msg = &TerminalResize{}
	case TypeDeleteTerminal:
		msg = &DeleteTerminal{}
	case TypePing:
		return env.Type, nil, nil
	case "":
		return "", nil, fmt.Errorf("message type is required")
	default:
		return env.Type, nil, fmt.Errorf("unknown message type %q", env.Type)
	}

	if len(env.Payload) == 0 {
		return env.Type, nil, fmt.Errorf("%s: payload is required", env.Type)
	}
	if err := sonic.Unmarshal(env.Payload, msg); err != nil {
		return env.Type, nil, fmt.Errorf("%s: malformed payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}
