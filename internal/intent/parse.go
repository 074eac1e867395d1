package intent

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/mikey/llm-phish-scanner/internal/core"
)

// ErrMalformedResponse is returned when model output does not match the verdict schema
var ErrMalformedResponse = errors.New("malformed intent response")

// Limits applied to model-supplied text
const (
	maxTactics      = 8
	maxTacticLength = 64
	maxReasonLength = 500
)

var reFence = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")

// verdict is a validated model response
type verdict struct {
	RiskScore         int
	HasRiskScore      bool
	Reason            string
	Tactics           []string
	Authority         int
	Urgency           int
	FinancialPressure int
}

// Score derives the intent score from the three tactic ratings
func (v verdict) Score() int {
	return tacticScore(v.Authority, v.Urgency, v.FinancialPressure)
}

// tacticScore is round(0.6*max + 0.4*mean) of the three ratings, computed over
// the common denominator 30 so that rounding is exact
func tacticScore(authority, urgency, financial int) int {
	highest := max(authority, urgency, financial)
	sum := authority + urgency + financial
	return core.ClampScore((18*highest + 4*sum + 15) / 30)
}

// parseVerdict accepts raw JSON, fenced JSON or JSON embedded in prose
func parseVerdict(text string) (verdict, error) {
	var lastErr error = fmt.Errorf("%w: no JSON object found", ErrMalformedResponse)
	for _, candidate := range jsonCandidates(text) {
		v, err := decodeVerdict(candidate)
		if err == nil {
			return v, nil
		}
		lastErr = err
	}
	return verdict{}, lastErr
}

func jsonCandidates(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	candidates := []string{text}
	for _, m := range reFence.FindAllStringSubmatch(text, -1) {
		candidates = append(candidates, strings.TrimSpace(m[1]))
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		candidates = append(candidates, text[start:end+1])
	}
	return candidates
}

func decodeVerdict(candidate string) (verdict, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(candidate)))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return verdict{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	fields := make(map[string]any, len(raw))
	for k, val := range raw {
		fields[normalizeKey(k)] = val
	}

	var (
		v   verdict
		err error
	)
	if v.Authority, err = requiredScore(fields, "authority"); err != nil {
		return verdict{}, err
	}
	if v.Urgency, err = requiredScore(fields, "urgency"); err != nil {
		return verdict{}, err
	}
	if v.FinancialPressure, err = requiredScore(fields, "financialpressure"); err != nil {
		return verdict{}, err
	}

	if val, ok := fields["riskscore"]; ok && val != nil {
		score, err := toScore(val)
		if err != nil {
			return verdict{}, fmt.Errorf("%w: riskScore: %v", ErrMalformedResponse, err)
		}
		v.RiskScore = score
		v.HasRiskScore = true
	}

	if val, ok := fields["reason"]; ok && val != nil {
		s, ok := val.(string)
		if !ok {
			return verdict{}, fmt.Errorf("%w: reason is %T", ErrMalformedResponse, val)
		}
		v.Reason = truncateRunes(strings.TrimSpace(s), maxReasonLength)
	}

	if v.Tactics, err = toTactics(fields["tactics"]); err != nil {
		return verdict{}, err
	}
	return v, nil
}

// normalizeKey folds camelCase and snake_case spellings onto one key
func normalizeKey(key string) string {
	return strings.ToLower(strings.ReplaceAll(key, "_", ""))
}

func requiredScore(fields map[string]any, key string) (int, error) {
	val, ok := fields[key]
	if !ok || val == nil {
		return 0, fmt.Errorf("%w: missing %s", ErrMalformedResponse, key)
	}
	score, err := toScore(val)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrMalformedResponse, key, err)
	}
	return score, nil
}

// toScore converts an integer, float or numeric string to a clamped score
func toScore(val any) (int, error) {
	var f float64
	switch n := val.(type) {
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, err
		}
		f = parsed
	case float64:
		f = n
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(n), "%"), 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", n)
		}
		f = parsed
	default:
		return 0, fmt.Errorf("unexpected type %T", val)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errors.New("not a finite number")
	}
	f = math.Max(-1, math.Min(101, f))
	return core.ClampScore(int(math.Round(f))), nil
}

// toTactics keeps at most maxTactics non-empty labels, each bounded in length
func toTactics(val any) ([]string, error) {
	out := []string{}
	switch t := val.(type) {
	case nil:
		return out, nil
	case string:
		if s := truncateRunes(strings.TrimSpace(t), maxTacticLength); s != "" {
			out = append(out, s)
		}
		return out, nil
	case []any:
		for _, item := range t {
			if len(out) == maxTactics {
				break
			}
			s, ok := item.(string)
			if !ok {
				continue
			}
			if s = truncateRunes(strings.TrimSpace(s), maxTacticLength); s != "" {
				out = append(out, s)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: tactics is %T", ErrMalformedResponse, val)
	}
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
