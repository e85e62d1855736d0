package transport

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
)

// heartbeat is the STOMP EOL heart-beat.
var heartbeat = []byte("\n")

// encodeFrame serializes f into a single STOMP payload.
func encodeFrame(f *frame.Frame) ([]byte, error) {
	var buf bytes.Buffer
	if err := frame.NewWriter(&buf).Write(f); err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", f.Command, err)
	}
	return buf.Bytes(), nil
}

// decodeFrames parses every frame in one payload. Heart-beats are skipped.
func decodeFrames(data []byte) ([]*frame.Frame, error) {
	r := frame.NewReader(bytes.NewReader(data))

	var frames []*frame.Frame
	for {
		f, err := r.Read()
		if errors.Is(err, io.EOF) {
			return frames, nil
		}
		if err != nil {
			return frames, fmt.Errorf("decode frame: %w", err)
		}
		if f == nil {
			continue
		}
		frames = append(frames, f)
	}
}

// formatHeartBeat renders the heart-beat header value "cx,cy" in milliseconds.
func formatHeartBeat(out, in time.Duration) string {
	return strconv.FormatInt(out.Milliseconds(), 10) + "," + strconv.FormatInt(in.Milliseconds(), 10)
}

// parseHeartBeat parses a "sx,sy" heart-beat header. Empty means no heart-beats.
func parseHeartBeat(value string) (sx, sy time.Duration, err error) {
	if value == "" {
		return 0, 0, nil
	}
	parts := strings.Split(value, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid heart-beat %q", value)
	}
	x, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil || x < 0 {
		return 0, 0, fmt.Errorf("invalid heart-beat %q", value)
	}
	y, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
	if err != nil || y < 0 {
		return 0, 0, fmt.Errorf("invalid heart-beat %q", value)
	}
	return time.Duration(x) * time.Millisecond, time.Duration(y) * time.Millisecond, nil
}

// negotiate returns the agreed heart-beat intervals. One side offering zero
// disables that direction.
func negotiate(clientOut, clientIn, serverOut, serverIn time.Duration) (send, expect time.Duration) {
	if clientOut > 0 && serverIn > 0 {
		send = max(clientOut, serverIn)
	}
	if clientIn > 0 && serverOut > 0 {
		expect = max(clientIn, serverOut)
	}
	return send, expect
}

// framer carries STOMP payloads inside websocket messages.
type framer interface {
	wrap(payload []byte) ([]byte, error)
	unwrap(msg []byte) ([][]byte, error)
}

// rawFramer maps one websocket message to one STOMP payload.
type rawFramer struct{}

func (rawFramer) wrap(payload []byte) ([]byte, error) {
	return payload, nil
}

func (rawFramer) unwrap(msg []byte) ([][]byte, error) {
	return [][]byte{msg}, nil
}
