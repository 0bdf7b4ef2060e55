// Package decode defines the canonical decoded-transmission record and the
// message classifier used across the pileup intelligence pipeline: parsing,
// callsign normalization, and duplicate suppression.
package decode

import (
	"regexp"
	"strings"
	"time"
)

// Decode represents one observed transmission from the digital-mode decoder.
// Records are immutable once the derived fields are filled; the pipeline only
// reads them after ingest.
type Decode struct {
	Timestamp time.Time // When the transmission was decoded
	SNR       int       // Signal-to-noise ratio in dB
	DT        float64   // Time offset in seconds
	FreqHz    int       // Audio frequency offset in Hz (0-4000 typical)
	Mode      string    // Mode (e.g., "FT8", "FT4")
	Message   string    // Raw message text

	// Derived from Message via DeriveFields.
	Callsign  string // Transmitting station
	Grid      string // Maidenhead locator, if present
	IsCQ      bool
	IsReply   bool
	Addressee string // Station being called, if any

	Source     string // "udp", "replay", ...
	Band       string
	DialFreqHz int64
}

// callsignPattern accepts the common amateur formats: 1-3 prefix characters,
// a digit, up to three suffix characters ending in a letter, with an optional
// /segment. It deliberately rejects bare words like "CQ" or "DX".
var callsignPattern = regexp.MustCompile(`^[A-Z0-9]{1,3}[0-9][A-Z0-9]{0,3}[A-Z](?:/[A-Z0-9]+)?$`)

// IsPlausibleCallsign reports whether the token looks like a callsign after
// hashed-call brackets are stripped.
func IsPlausibleCallsign(token string) bool {
	token = strings.Trim(strings.ToUpper(token), "<>")
	if token == "" || token == "CQ" {
		return false
	}
	return callsignPattern.MatchString(token)
}

// CleanCallsign strips the <> brackets the protocol uses for hashed calls.
func CleanCallsign(call string) string {
	return strings.ToUpper(strings.Trim(call, "<>"))
}

// NormalizeCallsign reduces a compound call like "EA8/DL1ABC" or "K1ABC/P"
// to its core for matching: the longest /-separated segment.
func NormalizeCallsign(call string) string {
	call = CleanCallsign(call)
	if !strings.Contains(call, "/") {
		return call
	}
	best := ""
	for _, part := range strings.Split(call, "/") {
		if len(part) > len(best) {
			best = part
		}
	}
	return best
}

// IsLocator reports whether the token is structurally a 4-character Maidenhead
// locator (two field letters A-R, two digits). Six-character locators also
// match on their first four characters. "RR73" is a protocol acknowledgement
// that happens to fit the shape and is excluded explicitly.
func IsLocator(token string) bool {
	token = strings.ToUpper(token)
	if token == "RR73" {
		return false
	}
	if len(token) != 4 && len(token) != 6 {
		return false
	}
	if token[0] < 'A' || token[0] > 'R' || token[1] < 'A' || token[1] > 'R' {
		return false
	}
	if token[2] < '0' || token[2] > '9' || token[3] < '0' || token[3] > '9' {
		return false
	}
	if len(token) == 6 {
		for _, c := range token[4:] {
			if c < 'A' || c > 'X' {
				return false
			}
		}
	}
	return true
}

// DeriveFields parses the message and fills the derived fields in place.
// Unparsable messages leave the derived fields zeroed.
func (d *Decode) DeriveFields() {
	parsed := ParseMessage(d.Message)
	d.Callsign = parsed.Caller
	d.Grid = parsed.Grid
	d.IsCQ = parsed.IsCQ
	d.IsReply = parsed.IsReply
	d.Addressee = parsed.Callee
}
