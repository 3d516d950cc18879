package ws

import (
	"fmt"
	"strings"

	"github.com/dgnsrekt/optionvault/internal/oracle"
)

// Protocol is a negotiated wire format.
type Protocol string

const (
	ProtocolJSON     Protocol = "json"
	ProtocolProtobuf Protocol = "protobuf"

	subprotocolJSON     = "optionvault.json.v1"
	subprotocolProtobuf = "optionvault.protobuf.v1"

	groupPrefix = "prices."
)

// Upstream message types for internal routing
type (
	joinGroupRequest struct {
		group string
		ackID *uint64
	}
	leaveGroupRequest struct {
		group string
		ackID *uint64
	}
	pingRequest struct{}
)

// PriceGroup returns the group carrying updates for symbol.
func PriceGroup(symbol string) string {
	return groupPrefix + strings.ToUpper(symbol)
}

// symbolFromGroup returns the symbol of a price group, or "" for any other name.
func symbolFromGroup(group string) string {
	if !strings.HasPrefix(group, groupPrefix) {
		return ""
	}
	symbol := strings.TrimPrefix(group, groupPrefix)
	if symbol == "" || symbol != strings.ToUpper(symbol) || strings.ContainsAny(symbol, " .") {
		return ""
	}
	return symbol
}

func parseUpstream(msg map[string]any) (any, error) {
	msgType, _ := msg["type"].(string)
	group, _ := msg["group"].(string)

	var ackID *uint64
	if v, ok := msg["ackId"].(float64); ok && v >= 0 {
		id := uint64(v)
		ackID = &id
	}

	switch msgType {
	case "joinGroup":
		return &joinGroupRequest{group: group, ackID: ackID}, nil
	case "leaveGroup":
		return &leaveGroupRequest{group: group, ackID: ackID}, nil
	case "ping":
		return &pingRequest{}, nil
	default:
		return nil, fmt.Errorf("unknown message type: %q", msgType)
	}
}

func connectedMessage(connectionID, userID string) map[string]any {
	return map[string]any{
		"type":         "system",
		"event":        "connected",
		"connectionId": connectionID,
		"userId":       userID,
	}
}

func ackMessage(ackID uint64, success bool, reason string) map[string]any {
	msg := map[string]any{
		"type":    "ack",
		"ackId":   ackID,
		"success": success,
	}
	if reason != "" {
		msg["error"] = reason
	}
	return msg
}

func pongMessage() map[string]any {
	return map[string]any{"type": "pong"}
}

func dataMessage(group string, payload map[string]any) map[string]any {
	return map[string]any{
		"type":  "message",
		"from":  "group",
		"group": group,
		"data":  payload,
	}
}

// pricePayload flattens a price read into wire-safe scalars. Prices travel as
// decimal strings so no precision is lost.
func pricePayload(pd oracle.PriceData) map[string]any {
	return map[string]any{
		"symbol":         pd.Symbol,
		"price":          pd.Price.String(),
		"timestamp":      pd.Timestamp.Unix(),
		"confidence_bps": pd.ConfidenceBps,
		"deviation_bps":  pd.DeviationBps,
		"deviating":      pd.Deviating,
		"status":         string(pd.Status),
		"synthetic":      pd.Synthetic,
		"emergency":      pd.Emergency,
	}
}
