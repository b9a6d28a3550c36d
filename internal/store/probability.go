package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	probabilityKeyPrefix = "probabilities:"

	// verifySampleSize bounds the post-write EXISTS verification.
	verifySampleSize = 5
)

// Record is one human-readable probability entry.
type Record struct {
	Expiry     string
	StrikeType string
	Strike     float64
	// Fields are the payload attributes (probability, confidence,
	// range_low, range_high, event_ticker, event_title, event_type).
	// A present nil value is stored as the literal "null".
	Fields map[string]any
}

// ProbabilityTable is the decoded compact hash with deterministic
// ordering: expiries chronological, strikes numeric.
type ProbabilityTable struct {
	Expiries []string
	Strikes  map[string][]string
	Values   map[string]map[string]map[string]any
}

// ProbabilityStore persists the probability catalog in two encodings.
type ProbabilityStore struct {
	client *redis.Client
	logger *slog.Logger
}

// NewProbabilityStore creates a probability store over a Redis client.
func NewProbabilityStore(client *redis.Client, logger *slog.Logger) *ProbabilityStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProbabilityStore{client: client, logger: logger}
}

func compactKey(currency string) string {
	return probabilityKeyPrefix + strings.ToUpper(currency)
}

// StoreProbabilities replaces the compact hash for a currency. Data is
// expiry -> strike -> payload. The whole hash is deleted and rewritten
// in one pipeline; the result count and post-write HLEN are validated.
func (s *ProbabilityStore) StoreProbabilities(ctx context.Context, currency string, data map[string]map[string]map[string]any) error {
	key := compactKey(currency)

	fields := make(map[string]string)
	for expiry, strikes := range data {
		for strike, payload := range strikes {
			encoded, err := json.Marshal(normalizeNaN(payload))
			if err != nil {
				return storeErr("encode", key, fmt.Errorf("payload %s:%s: %w", expiry, strike, err))
			}
			fields[expiry+":"+strike] = string(encoded)
		}
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	for field, value := range fields {
		pipe.HSet(ctx, key, field, value)
	}
	cmds, err := pipe.Exec(ctx)
	if err != nil {
		return storeErr("write", key, err)
	}
	if len(cmds) != 1+len(fields) {
		return storeErr("write", key,
			fmt.Errorf("pipeline returned %d results, want %d", len(cmds), 1+len(fields)))
	}

	n, err := s.client.HLen(ctx, key).Result()
	if err != nil {
		return storeErr("verify", key, err)
	}
	if n != int64(len(fields)) {
		return storeErr("verify", key,
			fmt.Errorf("hash holds %d fields, want %d", n, len(fields)))
	}

	s.logger.Debug("stored compact probabilities",
		"currency", currency,
		"fields", len(fields),
	)
	return nil
}

// StoreProbabilitiesHumanReadable replaces the per-strike hashes for a
// currency: existing prefixed keys are deleted and the new records
// written in a single pipeline, then a sample of written keys is
// verified with EXISTS probes.
func (s *ProbabilityStore) StoreProbabilitiesHumanReadable(ctx context.Context, currency string, records []Record) error {
	prefix := compactKey(currency) + ":"

	existing, err := s.scanKeys(ctx, prefix+"*")
	if err != nil {
		return storeErr("scan", prefix+"*", err)
	}

	written := make([]string, 0, len(records))
	pipe := s.client.TxPipeline()
	for _, key := range existing {
		pipe.Del(ctx, key)
	}
	for _, r := range records {
		if math.IsNaN(r.Strike) || math.IsInf(r.Strike, 0) {
			return storeErr("encode", prefix,
				fmt.Errorf("non-finite strike %v for expiry %s", r.Strike, r.Expiry))
		}
		key := fmt.Sprintf("%s%s:%s:%d", prefix, r.Expiry, r.StrikeType, int(math.Round(r.Strike)))

		fields := encodeFields(r.Fields)
		if _, ok := fields["event_ticker"]; !ok {
			fields["event_ticker"] = "null"
		}

		pipe.HSet(ctx, key, fields)
		written = append(written, key)
	}

	cmds, err := pipe.Exec(ctx)
	if err != nil {
		return storeErr("write", prefix, err)
	}
	if want := len(existing) + len(records); len(cmds) != want {
		return storeErr("write", prefix,
			fmt.Errorf("pipeline returned %d results, want %d", len(cmds), want))
	}

	return s.verifyWritten(ctx, written)
}

// verifyWritten probes a sample of keys with EXISTS; a miss runs the
// connectivity probe to name the failure mode.
func (s *ProbabilityStore) verifyWritten(ctx context.Context, keys []string) error {
	sample := keys
	if len(sample) > verifySampleSize {
		sample = sample[:verifySampleSize]
	}
	if len(sample) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	probes := make([]*redis.IntCmd, len(sample))
	for i, key := range sample {
		probes[i] = pipe.Exists(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return storeErr("verify", sample[0], err)
	}

	for i, probe := range probes {
		if probe.Val() == 1 {
			continue
		}
		if err := probeConnectivity(ctx, s.client); err != nil {
			return storeErr("verify", sample[i], err)
		}
		return storeErr("verify", sample[i], errors.New("written key missing despite live connection"))
	}
	return nil
}

// GetProbabilities decodes the compact hash for a currency.
func (s *ProbabilityStore) GetProbabilities(ctx context.Context, currency string) (*ProbabilityTable, error) {
	key := compactKey(currency)

	raw, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, storeErr("read", key, err)
	}

	table := &ProbabilityTable{
		Strikes: make(map[string][]string),
		Values:  make(map[string]map[string]map[string]any),
	}
	for field, value := range raw {
		expiry, strike := splitField(field)

		var payload map[string]any
		if err := json.Unmarshal([]byte(value), &payload); err != nil {
			return nil, storeErr("decode", key, fmt.Errorf("field %s: %w", field, err))
		}

		if table.Values[expiry] == nil {
			table.Values[expiry] = make(map[string]map[string]any)
			table.Expiries = append(table.Expiries, expiry)
		}
		table.Values[expiry][strike] = payload
		table.Strikes[expiry] = append(table.Strikes[expiry], strike)
	}

	sortExpiries(table.Expiries)
	for _, strikes := range table.Strikes {
		sortStrikes(strikes)
	}
	return table, nil
}

// HumanReadable is expiry -> event title -> strike type -> strike ->
// field -> value.
type HumanReadable map[string]map[string]map[string]map[string]map[string]string

// GetProbabilitiesHumanReadable enumerates per-strike hashes and
// groups them. A record without an event_title is fatal.
func (s *ProbabilityStore) GetProbabilitiesHumanReadable(ctx context.Context, currency string) (HumanReadable, error) {
	prefix := compactKey(currency) + ":"

	keys, err := s.scanKeys(ctx, prefix+"*")
	if err != nil {
		return nil, storeErr("scan", prefix+"*", err)
	}

	out := make(HumanReadable)
	for _, key := range keys {
		fields, err := s.client.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, storeErr("read", key, err)
		}

		expiry, strikeType, strike, err := splitHumanKey(strings.TrimPrefix(key, prefix))
		if err != nil {
			return nil, storeErr("decode", key, err)
		}

		title := fields["event_title"]
		if title == "" {
			return nil, storeErr("decode", key, errors.New("record missing event_title"))
		}

		if out[expiry] == nil {
			out[expiry] = make(map[string]map[string]map[string]map[string]string)
		}
		if out[expiry][title] == nil {
			out[expiry][title] = make(map[string]map[string]map[string]string)
		}
		if out[expiry][title][strikeType] == nil {
			out[expiry][title][strikeType] = make(map[string]map[string]string)
		}
		out[expiry][title][strikeType][strike] = fields
	}
	return out, nil
}

// GetAllEventTypes collects unique event_type values across a
// currency's human-readable records. No types is an error.
func (s *ProbabilityStore) GetAllEventTypes(ctx context.Context, currency string) ([]string, error) {
	prefix := compactKey(currency) + ":"

	keys, err := s.scanKeys(ctx, prefix+"*")
	if err != nil {
		return nil, storeErr("scan", prefix+"*", err)
	}

	seen := make(map[string]bool)
	for _, key := range keys {
		v, err := s.client.HGet(ctx, key, "event_type").Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, storeErr("read", key, err)
		}
		if v != "" && v != "null" {
			seen[v] = true
		}
	}

	if len(seen) == 0 {
		return nil, storeErr("read", prefix+"*", errors.New("no event types recorded"))
	}

	types := make([]string, 0, len(seen))
	for t := range seen {
		types = append(types, t)
	}
	sort.Strings(types)
	return types, nil
}

// GetProbabilitiesByEventType returns key -> fields for records whose
// event_type matches.
func (s *ProbabilityStore) GetProbabilitiesByEventType(ctx context.Context, currency, eventType string) (map[string]map[string]string, error) {
	prefix := compactKey(currency) + ":"

	keys, err := s.scanKeys(ctx, prefix+"*")
	if err != nil {
		return nil, storeErr("scan", prefix+"*", err)
	}

	out := make(map[string]map[string]string)
	for _, key := range keys {
		fields, err := s.client.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, storeErr("read", key, err)
		}
		if fields["event_type"] == eventType {
			out[key] = fields
		}
	}
	return out, nil
}

// GetEventTickerForKey resolves the event_ticker field of a
// per-strike record. Missing key or field is fatal.
func (s *ProbabilityStore) GetEventTickerForKey(ctx context.Context, key string) (string, error) {
	if !strings.HasPrefix(key, probabilityKeyPrefix) {
		key = probabilityKeyPrefix + key
	}

	v, err := s.client.HGet(ctx, key, "event_ticker").Result()
	if err == redis.Nil {
		return "", storeErr("read", key, errors.New("key or event_ticker field missing"))
	}
	if err != nil {
		return "", storeErr("read", key, err)
	}
	return v, nil
}

// scanKeys enumerates keys matching a pattern via SCAN.
func (s *ProbabilityStore) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

// normalizeNaN replaces NaN floats with the literal string "NaN" so
// the payload survives JSON encoding bit-for-bit.
func normalizeNaN(payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		switch val := v.(type) {
		case float64:
			if math.IsNaN(val) {
				out[k] = "NaN"
				continue
			}
			out[k] = val
		case map[string]any:
			out[k] = normalizeNaN(val)
		default:
			out[k] = v
		}
	}
	return out
}

// encodeFields serializes human-readable payload attributes: NaN
// floats become "NaN", present nil values become "null".
func encodeFields(fields map[string]any) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		out[k] = encodeField(v)
	}
	return out
}

func encodeField(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case float64:
		if math.IsNaN(val) {
			return "NaN"
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return encodeField(float64(val))
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(encoded)
	}
}

// splitField separates a compact hash field into (expiry, strike).
// Expiries may themselves contain colons, so the search order is the
// Zulu suffix, the +00:00 offset suffix, then the last colon.
func splitField(field string) (expiry, strike string) {
	if idx := strings.Index(field, "Z:"); idx >= 0 {
		return field[:idx+1], field[idx+2:]
	}
	if idx := strings.Index(field, "+00:00:"); idx >= 0 {
		return field[:idx+6], field[idx+7:]
	}
	if idx := strings.LastIndex(field, ":"); idx >= 0 {
		return field[:idx], field[idx+1:]
	}
	return field, ""
}

// splitHumanKey separates "EXPIRY:STRIKE_TYPE:STRIKE" from the right,
// since the expiry segment may contain colons.
func splitHumanKey(rest string) (expiry, strikeType, strike string, err error) {
	last := strings.LastIndex(rest, ":")
	if last < 0 {
		return "", "", "", fmt.Errorf("malformed key remainder %q", rest)
	}
	strike = rest[last+1:]

	prev := strings.LastIndex(rest[:last], ":")
	if prev < 0 {
		return "", "", "", fmt.Errorf("malformed key remainder %q", rest)
	}
	return rest[:prev], rest[prev+1 : last], strike, nil
}

// sortExpiries orders ISO-8601 expiries chronologically, falling back
// to lexical order for unparseable values.
func sortExpiries(expiries []string) {
	sort.Slice(expiries, func(i, j int) bool {
		ti, iok := parseExpiry(expiries[i])
		tj, jok := parseExpiry(expiries[j])
		if iok && jok {
			return ti.Before(tj)
		}
		return expiries[i] < expiries[j]
	})
}

func parseExpiry(s string) (time.Time, bool) {
	for _, layout := range []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02",
	} {
		if parsed, err := time.Parse(layout, s); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

// strikeRank orders strike spellings sharing a numeric value:
// "<x" before plain "x", ranges after, ">x" last.
func strikeRank(s string) (value float64, rank int, ok bool) {
	switch {
	case strings.HasPrefix(s, "<"):
		v, err := strconv.ParseFloat(s[1:], 64)
		return v, 0, err == nil
	case strings.HasPrefix(s, ">"):
		v, err := strconv.ParseFloat(s[1:], 64)
		return v, 3, err == nil
	}

	if low, _, found := strings.Cut(s, "-"); found && low != "" {
		if v, err := strconv.ParseFloat(low, 64); err == nil {
			return v, 2, true
		}
	}

	v, err := strconv.ParseFloat(s, 64)
	return v, 1, err == nil
}

// sortStrikes orders strikes by parsed numeric value, then by rank.
func sortStrikes(strikes []string) {
	sort.Slice(strikes, func(i, j int) bool {
		vi, ri, iok := strikeRank(strikes[i])
		vj, rj, jok := strikeRank(strikes[j])
		if !iok || !jok {
			if iok != jok {
				return iok // parseable first
			}
			return strikes[i] < strikes[j]
		}
		if vi != vj {
			return vi < vj
		}
		return ri < rj
	})
}
