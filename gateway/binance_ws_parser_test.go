package gateway

import "testing"

func TestParseMiniTickersCombined(t *testing.T) {
	raw := []byte(`{
		"stream":"btcusdt@miniTicker",
		"data":{"e":"24hrMiniTicker","E":1700000000000,"s":"BTCUSDT","c":"43210.5","o":"43000","h":"44000","l":"42000","v":"1","q":"1"}
	}`)
	got, err := ParseMiniTickers(raw)
	if err != nil {
		t.Fatalf("parse err: %v", err)
	}
	if len(got) != 1 || got[0].Symbol != "BTCUSDT" || got[0].Close != 43210.5 {
		t.Fatalf("unexpected parse result: %+v", got)
	}
	if got[0].EventTime.UnixMilli() != 1700000000000 {
		t.Fatalf("unexpected event time %v", got[0].EventTime)
	}
}

func TestParseMiniTickersArray(t *testing.T) {
	raw := []byte(`[
		{"e":"24hrMiniTicker","E":1,"s":"BTCUSDT","c":"100"},
		{"e":"24hrMiniTicker","E":2,"s":"XRPUSDT","c":"0.61"}
	]`)
	got, err := ParseMiniTickers(raw)
	if err != nil {
		t.Fatalf("parse err: %v", err)
	}
	if len(got) != 2 || got[1].Symbol != "XRPUSDT" || got[1].Close != 0.61 {
		t.Fatalf("unexpected parse result: %+v", got)
	}
}

func TestParseMiniTickersRejectsBadPayload(t *testing.T) {
	for _, raw := range []string{
		`not json`,
		`{"e":"24hrMiniTicker","s":"BTCUSDT","c":"0"}`,
		`{"e":"24hrMiniTicker","c":"1"}`,
	} {
		if _, err := ParseMiniTickers([]byte(raw)); err == nil {
			t.Fatalf("expected error for %s", raw)
		}
	}
}

func TestParseMiniTickersSkipsOtherEvents(t *testing.T) {
	got, err := ParseMiniTickers([]byte(`{"e":"trade","s":"BTCUSDT","p":"1"}`))
	if err != nil {
		t.Fatalf("parse err: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no tickers, got %+v", got)
	}
}
