package store

import (
	"context"
	"encoding/json"
	"math"
	"reflect"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestStoreProbabilities_CompactRoundTrip(t *testing.T) {
	client := testClient(t)
	s := NewProbabilityStore(client, nil)
	ctx := context.Background()

	data := map[string]map[string]map[string]any{
		"2025-01-01T00:00:00Z": {
			"1000": {"probability": 0.55, "error": 0.01},
		},
	}
	if err := s.StoreProbabilities(ctx, "BTC", data); err != nil {
		t.Fatalf("StoreProbabilities: %v", err)
	}

	n, _ := client.HLen(ctx, "probabilities:BTC").Result()
	if n != 1 {
		t.Errorf("hlen = %d, want 1", n)
	}
	keys, _ := client.HKeys(ctx, "probabilities:BTC").Result()
	if len(keys) != 1 || keys[0] != "2025-01-01T00:00:00Z:1000" {
		t.Errorf("hkeys = %v", keys)
	}

	raw, _ := client.HGet(ctx, "probabilities:BTC", "2025-01-01T00:00:00Z:1000").Result()
	var payload map[string]any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		t.Fatalf("stored value not JSON: %v", err)
	}
	if payload["probability"] != 0.55 {
		t.Errorf("probability = %v", payload["probability"])
	}

	table, err := s.GetProbabilities(ctx, "BTC")
	if err != nil {
		t.Fatalf("GetProbabilities: %v", err)
	}
	got := table.Values["2025-01-01T00:00:00Z"]["1000"]
	if got["probability"] != 0.55 || got["error"] != 0.01 {
		t.Errorf("round trip = %v", got)
	}
}

func TestStoreProbabilities_ReplacesPreviousHash(t *testing.T) {
	client := testClient(t)
	s := NewProbabilityStore(client, nil)
	ctx := context.Background()

	first := map[string]map[string]map[string]any{
		"2025-01-01T00:00:00Z": {
			"1000": {"probability": 0.5},
			"2000": {"probability": 0.3},
		},
	}
	second := map[string]map[string]map[string]any{
		"2025-01-02T00:00:00Z": {
			"1500": {"probability": 0.9},
		},
	}

	if err := s.StoreProbabilities(ctx, "ETH", first); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := s.StoreProbabilities(ctx, "ETH", second); err != nil {
		t.Fatalf("second write: %v", err)
	}

	n, _ := client.HLen(ctx, "probabilities:ETH").Result()
	if n != 1 {
		t.Errorf("hlen = %d after replace, want 1", n)
	}
}

func TestStoreProbabilities_NaNEncoding(t *testing.T) {
	client := testClient(t)
	s := NewProbabilityStore(client, nil)
	ctx := context.Background()

	data := map[string]map[string]map[string]any{
		"2025-01-01T00:00:00Z": {
			"1000": {"probability": 0.5, "confidence": math.NaN()},
		},
	}
	if err := s.StoreProbabilities(ctx, "BTC", data); err != nil {
		t.Fatalf("StoreProbabilities with NaN: %v", err)
	}

	table, err := s.GetProbabilities(ctx, "BTC")
	if err != nil {
		t.Fatalf("GetProbabilities: %v", err)
	}
	got := table.Values["2025-01-01T00:00:00Z"]["1000"]["confidence"]
	if got != "NaN" {
		t.Errorf("confidence = %v (%T), want the string NaN", got, got)
	}
}

func TestGetProbabilities_Ordering(t *testing.T) {
	client := testClient(t)
	s := NewProbabilityStore(client, nil)
	ctx := context.Background()

	data := map[string]map[string]map[string]any{
		"2025-02-01T00:00:00Z": {
			"2000": {"p": 0.1},
			"500":  {"p": 0.2},
			"<500": {"p": 0.3},
			">2000": {"p": 0.4},
		},
		"2025-01-01T00:00:00Z": {
			"1000": {"p": 0.5},
		},
	}
	if err := s.StoreProbabilities(ctx, "BTC", data); err != nil {
		t.Fatalf("StoreProbabilities: %v", err)
	}

	table, err := s.GetProbabilities(ctx, "BTC")
	if err != nil {
		t.Fatalf("GetProbabilities: %v", err)
	}

	wantExpiries := []string{"2025-01-01T00:00:00Z", "2025-02-01T00:00:00Z"}
	if !reflect.DeepEqual(table.Expiries, wantExpiries) {
		t.Errorf("expiries = %v, want %v", table.Expiries, wantExpiries)
	}

	wantStrikes := []string{"<500", "500", "2000", ">2000"}
	if !reflect.DeepEqual(table.Strikes["2025-02-01T00:00:00Z"], wantStrikes) {
		t.Errorf("strikes = %v, want %v", table.Strikes["2025-02-01T00:00:00Z"], wantStrikes)
	}
}

func TestSplitField(t *testing.T) {
	cases := []struct {
		field  string
		expiry string
		strike string
	}{
		{"2025-01-01T00:00:00Z:1000", "2025-01-01T00:00:00Z", "1000"},
		{"2025-01-01T00:00:00+00:00:2000", "2025-01-01T00:00:00+00:00", "2000"},
		{"2025-01-01:500", "2025-01-01", "500"},
	}
	for _, tc := range cases {
		expiry, strike := splitField(tc.field)
		if expiry != tc.expiry || strike != tc.strike {
			t.Errorf("splitField(%q) = (%q, %q), want (%q, %q)",
				tc.field, expiry, strike, tc.expiry, tc.strike)
		}
	}
}

func TestStoreProbabilitiesHumanReadable(t *testing.T) {
	client := testClient(t)
	s := NewProbabilityStore(client, nil)
	ctx := context.Background()

	records := []Record{
		{
			Expiry:     "2025-01-01T00:00:00Z",
			StrikeType: "greater",
			Strike:     999.6,
			Fields: map[string]any{
				"probability":  0.55,
				"confidence":   math.NaN(),
				"range_low":    nil,
				"event_title":  "BTC above 1000",
				"event_ticker": "KXBTC-25JAN01",
				"event_type":   "crypto",
			},
		},
		{
			Expiry:     "2025-01-01T00:00:00Z",
			StrikeType: "less",
			Strike:     500,
			Fields: map[string]any{
				"probability": 0.2,
				"event_title": "BTC below 500",
				"event_type":  "crypto",
			},
		},
	}

	if err := s.StoreProbabilitiesHumanReadable(ctx, "BTC", records); err != nil {
		t.Fatalf("StoreProbabilitiesHumanReadable: %v", err)
	}

	// Strike rounds to the nearest integer in the key.
	key := "probabilities:BTC:2025-01-01T00:00:00Z:greater:1000"
	fields, err := client.HGetAll(context.Background(), key).Result()
	if err != nil || len(fields) == 0 {
		t.Fatalf("key %s missing: %v", key, err)
	}
	if fields["confidence"] != "NaN" {
		t.Errorf("confidence = %q, want literal NaN", fields["confidence"])
	}
	if fields["range_low"] != "null" {
		t.Errorf("range_low = %q, want literal null", fields["range_low"])
	}
	if _, ok := fields["range_high"]; ok {
		t.Error("absent range_high must stay omitted")
	}

	// Missing event_ticker is written as "null".
	lessKey := "probabilities:BTC:2025-01-01T00:00:00Z:less:500"
	ticker, _ := client.HGet(ctx, lessKey, "event_ticker").Result()
	if ticker != "null" {
		t.Errorf("event_ticker = %q, want null", ticker)
	}
}

func TestStoreProbabilitiesHumanReadable_ReplacesPrefix(t *testing.T) {
	client := testClient(t)
	s := NewProbabilityStore(client, nil)
	ctx := context.Background()

	old := []Record{{
		Expiry: "2024-12-01T00:00:00Z", StrikeType: "greater", Strike: 100,
		Fields: map[string]any{"event_title": "old"},
	}}
	if err := s.StoreProbabilitiesHumanReadable(ctx, "BTC", old); err != nil {
		t.Fatalf("first write: %v", err)
	}

	fresh := []Record{{
		Expiry: "2025-01-01T00:00:00Z", StrikeType: "greater", Strike: 200,
		Fields: map[string]any{"event_title": "fresh"},
	}}
	if err := s.StoreProbabilitiesHumanReadable(ctx, "BTC", fresh); err != nil {
		t.Fatalf("second write: %v", err)
	}

	if n, _ := client.Exists(ctx, "probabilities:BTC:2024-12-01T00:00:00Z:greater:100").Result(); n != 0 {
		t.Error("old key should be deleted")
	}
	if n, _ := client.Exists(ctx, "probabilities:BTC:2025-01-01T00:00:00Z:greater:200").Result(); n != 1 {
		t.Error("fresh key missing")
	}
}

func TestStoreProbabilitiesHumanReadable_NonFiniteStrike(t *testing.T) {
	s := NewProbabilityStore(testClient(t), nil)

	err := s.StoreProbabilitiesHumanReadable(context.Background(), "BTC", []Record{{
		Expiry: "2025-01-01T00:00:00Z", StrikeType: "greater", Strike: math.Inf(1),
		Fields: map[string]any{"event_title": "x"},
	}})
	if err == nil {
		t.Fatal("infinite strike must be rejected")
	}
}

func TestGetProbabilitiesHumanReadable(t *testing.T) {
	client := testClient(t)
	s := NewProbabilityStore(client, nil)
	ctx := context.Background()

	records := []Record{
		{Expiry: "2025-01-01T00:00:00Z", StrikeType: "greater", Strike: 1000,
			Fields: map[string]any{"event_title": "BTC", "probability": 0.5}},
		{Expiry: "2025-01-01T00:00:00Z", StrikeType: "less", Strike: 500,
			Fields: map[string]any{"event_title": "BTC", "probability": 0.2}},
	}
	if err := s.StoreProbabilitiesHumanReadable(ctx, "BTC", records); err != nil {
		t.Fatalf("write: %v", err)
	}

	out, err := s.GetProbabilitiesHumanReadable(ctx, "BTC")
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	byTitle := out["2025-01-01T00:00:00Z"]["BTC"]
	if byTitle == nil {
		t.Fatalf("grouping missing: %v", out)
	}
	if byTitle["greater"]["1000"]["probability"] != "0.5" {
		t.Errorf("greater strike fields = %v", byTitle["greater"]["1000"])
	}
	if byTitle["less"]["500"]["probability"] != "0.2" {
		t.Errorf("less strike fields = %v", byTitle["less"]["500"])
	}
}

func TestGetProbabilitiesHumanReadable_MissingTitleFatal(t *testing.T) {
	client := testClient(t)
	s := NewProbabilityStore(client, nil)
	ctx := context.Background()

	client.HSet(ctx, "probabilities:BTC:2025-01-01T00:00:00Z:greater:1000",
		"probability", "0.5")

	if _, err := s.GetProbabilitiesHumanReadable(ctx, "BTC"); err == nil {
		t.Fatal("missing event_title must be fatal")
	}
}

func TestEventTypeQueries(t *testing.T) {
	client := testClient(t)
	s := NewProbabilityStore(client, nil)
	ctx := context.Background()

	records := []Record{
		{Expiry: "2025-01-01T00:00:00Z", StrikeType: "greater", Strike: 1000,
			Fields: map[string]any{"event_title": "a", "event_type": "crypto"}},
		{Expiry: "2025-01-01T00:00:00Z", StrikeType: "less", Strike: 70,
			Fields: map[string]any{"event_title": "b", "event_type": "weather"}},
		{Expiry: "2025-01-02T00:00:00Z", StrikeType: "greater", Strike: 2000,
			Fields: map[string]any{"event_title": "c"}}, // event_type null
	}
	if err := s.StoreProbabilitiesHumanReadable(ctx, "BTC", records); err != nil {
		t.Fatalf("write: %v", err)
	}

	types, err := s.GetAllEventTypes(ctx, "BTC")
	if err != nil {
		t.Fatalf("GetAllEventTypes: %v", err)
	}
	if !reflect.DeepEqual(types, []string{"crypto", "weather"}) {
		t.Errorf("types = %v", types)
	}

	crypto, err := s.GetProbabilitiesByEventType(ctx, "BTC", "crypto")
	if err != nil {
		t.Fatalf("GetProbabilitiesByEventType: %v", err)
	}
	if len(crypto) != 1 {
		t.Errorf("crypto records = %d, want 1", len(crypto))
	}

	if _, err := s.GetAllEventTypes(ctx, "NONE"); err == nil {
		t.Error("no event types must be an error")
	}
}

func TestGetEventTickerForKey(t *testing.T) {
	client := testClient(t)
	s := NewProbabilityStore(client, nil)
	ctx := context.Background()

	records := []Record{{
		Expiry: "2025-01-01T00:00:00Z", StrikeType: "greater", Strike: 1000,
		Fields: map[string]any{"event_title": "a", "event_ticker": "KXBTC-25JAN01"},
	}}
	if err := s.StoreProbabilitiesHumanReadable(ctx, "BTC", records); err != nil {
		t.Fatalf("write: %v", err)
	}

	ticker, err := s.GetEventTickerForKey(ctx, "BTC:2025-01-01T00:00:00Z:greater:1000")
	if err != nil {
		t.Fatalf("GetEventTickerForKey: %v", err)
	}
	if ticker != "KXBTC-25JAN01" {
		t.Errorf("ticker = %q", ticker)
	}

	if _, err := s.GetEventTickerForKey(ctx, "BTC:nope:greater:1"); err == nil {
		t.Error("missing key must be fatal")
	}
}
