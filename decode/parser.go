package decode

import "strings"

// ParsedMessage is the classifier output for one raw message string. It is a
// pure derived value; consumers never retain it.
type ParsedMessage struct {
	Caller  string // Station transmitting this message
	Callee  string // Station being addressed, if any
	Grid    string // 4-character locator, if present
	IsCQ    bool
	IsReply bool
}

// cqModifiers are directed-CQ tokens that may appear between "CQ" and the
// caller, e.g. "CQ DX K1ABC FN42" or "CQ NA K1ABC".
func isCQModifier(token string) bool {
	if token == "DX" || token == "POTA" || token == "SOTA" {
		return true
	}
	// Region/zone designators: short all-letter tokens that are not callsigns.
	if len(token) >= 2 && len(token) <= 4 && !IsPlausibleCallsign(token) {
		for _, c := range token {
			if c < 'A' || c > 'Z' {
				return false
			}
		}
		return true
	}
	return false
}

// ParseMessage classifies a raw protocol message into a structured intent.
// Recognized shapes:
//
//	CQ [MOD] <CALLER> [<GRID>]   general call
//	<CALLER> CQ [<GRID>]         general call, caller-first variant
//	<CALLEE> <CALLER> ...        reply/exchange addressed to CALLEE
//
// Anything else yields a zero ParsedMessage, which downstream consumers skip.
func ParseMessage(message string) ParsedMessage {
	var result ParsedMessage

	tokens := strings.Fields(strings.ToUpper(strings.TrimSpace(message)))
	if len(tokens) < 2 {
		return result
	}

	// CQ-first form, with optional directed modifier.
	if tokens[0] == "CQ" {
		rest := tokens[1:]
		if len(rest) >= 2 && isCQModifier(rest[0]) {
			rest = rest[1:]
		}
		if len(rest) == 0 || !IsPlausibleCallsign(rest[0]) {
			return result
		}
		result.IsCQ = true
		result.Caller = CleanCallsign(rest[0])
		if len(rest) >= 2 && IsLocator(rest[1]) {
			result.Grid = strings.ToUpper(rest[1])[:4]
		}
		return result
	}

	// Caller-first CQ form: "<CALLER> CQ [GRID]".
	if tokens[1] == "CQ" && IsPlausibleCallsign(tokens[0]) {
		result.IsCQ = true
		result.Caller = CleanCallsign(tokens[0])
		if len(tokens) >= 3 && IsLocator(tokens[2]) {
			result.Grid = strings.ToUpper(tokens[2])[:4]
		}
		return result
	}

	// Directed exchange: "<CALLEE> <CALLER> ...".
	if IsPlausibleCallsign(tokens[0]) && IsPlausibleCallsign(tokens[1]) {
		result.Callee = CleanCallsign(tokens[0])
		result.Caller = CleanCallsign(tokens[1])
		result.IsReply = true
		if len(tokens) >= 3 && IsLocator(tokens[2]) {
			result.Grid = strings.ToUpper(tokens[2])[:4]
		}
		return result
	}

	return result
}
