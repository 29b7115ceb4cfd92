// Package webhook validates and applies Smartcar push messages: the VERIFY
// handshake, HMAC signature checks, vehicle routing, and the translation of
// signals into coordinator merges. Everything here is boundary handling;
// invalid input never reaches the document merge path.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"smartcar-bridge/internal/coordinator"
	"smartcar-bridge/internal/registry"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "SC-Signature"

// Values that denote an imperial measurement convertible by an entity
// description's imperial conversion.
var imperialMeasurements = map[string]bool{
	"miles":   true,
	"psi":     true,
	"gallons": true,
}

// Message is the inbound push payload.
type Message struct {
	EventType string      `json:"eventType"`
	Data      MessageData `json:"data"`
}

// MessageData is the event-form body: the target vehicle plus signal and
// error batches.
type MessageData struct {
	Challenge string       `json:"challenge"`
	Vehicle   Vehicle      `json:"vehicle"`
	Signals   []Signal     `json:"signals"`
	Errors    []ErrorEntry `json:"errors"`
}

// Vehicle identifies the message's target.
type Vehicle struct {
	ID string `json:"id"`
}

// Signal is one field update delivered via push.
type Signal struct {
	Code   string         `json:"code"`
	Name   string         `json:"name"`
	Body   map[string]any `json:"body"`
	Status SignalStatus   `json:"status"`
	Meta   SignalMeta     `json:"meta"`
}

// SignalStatus reports per-signal success or failure.
type SignalStatus struct {
	Value string         `json:"value"`
	Error map[string]any `json:"error"`
}

// SignalMeta carries freshness timestamps as epoch milliseconds.
type SignalMeta struct {
	OEMUpdatedAt int64 `json:"oemUpdatedAt"`
	RetrievedAt  int64 `json:"retrievedAt"`
}

// ErrorEntry is one account-level error report within a message.
type ErrorEntry struct {
	Type       string `json:"type"`
	Code       string `json:"code"`
	Resolution struct {
		Type string `json:"type"`
	} `json:"resolution"`
	Signals []string `json:"signals"`
}

// Signature computes the hex HMAC-SHA256 used both for the VERIFY handshake
// and for body validation.
func Signature(appToken, message string) string {
	mac := hmac.New(sha256.New, []byte(appToken))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// Processor applies one inbound push message at a time; it holds no queue and
// no state beyond its collaborators.
type Processor struct {
	appToken     string
	coordinators []*coordinator.Coordinator
	log          zerolog.Logger
}

// NewProcessor creates a processor routing messages to the given coordinators.
func NewProcessor(appToken string, coordinators []*coordinator.Coordinator, log zerolog.Logger) *Processor {
	return &Processor{
		appToken:     appToken,
		coordinators: coordinators,
		log:          log.With().Str("component", "webhook").Logger(),
	}
}

// Handler returns the gin handler for POST /webhook/:id.
func (p *Processor) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := c.GetRawData()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_body"})
			return
		}

		var message Message
		if err := json.Unmarshal(body, &message); err != nil {
			p.log.Warn().Msg("received invalid JSON")
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
			return
		}

		// The VERIFY handshake is intentionally unsigned; every other message
		// must be validated before its data is touched.
		if message.EventType == "VERIFY" {
			c.JSON(http.StatusOK, gin.H{
				"challenge": Signature(p.appToken, message.Data.Challenge),
			})
			return
		}

		expected := Signature(p.appToken, string(body))
		if !hmac.Equal([]byte(expected), []byte(c.GetHeader(SignatureHeader))) {
			p.log.Error().Msg("ignoring message with invalid signature")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_signature"})
			return
		}

		coord := p.resolveVehicle(message.Data.Vehicle.ID)
		if coord == nil {
			// A routing miss, not a data error: one installation can serve
			// several vehicles sharing one webhook URL.
			p.log.Debug().Str("vehicle_id", message.Data.Vehicle.ID).
				Msg("ignoring message for unknown vehicle")
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown_vehicle"})
			return
		}

		p.handleErrors(coord, message.Data.Errors)
		p.handleSignals(coord, message.Data.Signals)

		c.Status(http.StatusNoContent)
	}
}

func (p *Processor) resolveVehicle(vehicleID string) *coordinator.Coordinator {
	if vehicleID == "" {
		return nil
	}
	for _, coord := range p.coordinators {
		if coord.VehicleID() == vehicleID {
			return coord
		}
	}
	return nil
}

// handleErrors inspects account-level error entries. Only permission errors
// demanding reauthentication are actionable, and only when they concern a
// tracked signal (or name none at all).
func (p *Processor) handleErrors(coord *coordinator.Coordinator, errors []ErrorEntry) {
	for _, entry := range errors {
		if entry.Type != "PERMISSION" || entry.Resolution.Type != "REAUTHENTICATE" {
			p.log.Debug().Str("type", entry.Type).Str("code", entry.Code).
				Msg("ignoring error in webhook")
			continue
		}

		if len(entry.Signals) > 0 && !anyKnownCode(entry.Signals) {
			p.log.Debug().Strs("signals", entry.Signals).
				Msg("ignoring permission error for untracked signals")
			continue
		}

		p.log.Info().Str("code", entry.Code).Msg("requesting reauth due to webhook message")
		coord.RequestReauth()
	}
}

func anyKnownCode(codes []string) bool {
	for _, code := range codes {
		if registry.IsKnownCode(code) {
			return true
		}
	}
	return false
}

// handleSignals merges every integrated signal and publishes the updated
// document once for the whole message.
func (p *Processor) handleSignals(coord *coordinator.Coordinator, signals []Signal) {
	update := coord.BeginUpdate()
	changed := false

	for _, signal := range signals {
		isError := signal.Status.Value == "ERROR"
		integrated := registry.IsKnownCode(signal.Code)

		body := cloneBody(signal.Body)

		if isError {
			p.logSignalError(signal, integrated)
			// An error report must not look like "no data received", and it
			// must not wipe a previously good last-known value.
			body = map[string]any{"value": nil}
		}

		body, unit := normalizeUnits(body)

		if !integrated {
			continue
		}

		meta := coordinator.Meta{UnitSystem: unitSystem(unit)}
		if !isError {
			meta.DataAge = epochMillis(signal.Meta.OEMUpdatedAt)
			meta.FetchedAt = epochMillis(signal.Meta.RetrievedAt)
		}

		update.AddSignal(signal.Code, body, meta, !isError)
		changed = true
	}

	if changed {
		coord.CommitPush(update)
	}
}

func (p *Processor) logSignalError(signal Signal, integrated bool) {
	event := p.log.Debug()
	if integrated {
		event = p.log.Error()
	}
	event.Str("signal", signal.Name).
		Interface("type", signal.Status.Error["type"]).
		Interface("code", signal.Status.Error["code"]).
		Msg("error for signal")
}

// normalizeUnits scales percent values into fractions and strips the unit
// field, returning the unit that was present.
func normalizeUnits(body map[string]any) (map[string]any, string) {
	unit, _ := body["unit"].(string)
	if unit == "" {
		return body, ""
	}
	delete(body, "unit")
	if unit == "percent" {
		if value, ok := body["value"].(float64); ok {
			body["value"] = value / 100
		}
		return body, ""
	}
	return body, unit
}

func unitSystem(unit string) string {
	switch {
	case unit == "":
		return ""
	case imperialMeasurements[unit]:
		return "imperial"
	default:
		return "metric"
	}
}

func epochMillis(ms int64) *time.Time {
	if ms == 0 {
		return nil
	}
	t := time.UnixMilli(ms).UTC()
	return &t
}

func cloneBody(body map[string]any) map[string]any {
	clone := make(map[string]any, len(body))
	for k, v := range body {
		clone[k] = v
	}
	return clone
}
