package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBinanceStreamURL(t *testing.T) {
	b, err := NewBinanceStream("binance-stream", Options{Symbols: []string{"BTC-USD", "XRP-USD"}})
	require.NoError(t, err)
	assert.Equal(t, "wss://stream.binance.com:9443/stream?streams=btcusdt%40miniTicker%2Fxrpusdt%40miniTicker", b.StreamURL())

	_, err = NewBinanceStream("binance-stream", Options{})
	assert.Error(t, err)
}

func TestBinanceStreamCachesAndExpires(t *testing.T) {
	b, err := NewBinanceStream("binance-stream", Options{Symbols: []string{"BTC-USD"}, Timeout: time.Second})
	require.NoError(t, err)
	now := time.Unix(1700000000, 0)
	b.now = func() time.Time { return now }

	b.OnRawMessage([]byte(`{"stream":"btcusdt@miniTicker","data":{"e":"24hrMiniTicker","E":1,"s":"BTCUSDT","c":"100.5"}}`))
	b.OnRawMessage([]byte(`{"stream":"ethusdt@miniTicker","data":{"e":"24hrMiniTicker","E":1,"s":"ETHUSDT","c":"5"}}`))
	assert.Equal(t, map[string]float64{"BTC-USD": 100.5}, b.FetchPrices(context.Background(), []string{"BTC-USD", "ETH-USD"}))

	now = now.Add(4 * time.Second)
	assert.Empty(t, b.FetchPrices(context.Background(), []string{"BTC-USD"}))
}

func TestBinanceStreamReceivesFromServer(t *testing.T) {
	upgrader := websocket.Upgrader{}
	gotQuery := make(chan string, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery <- r.URL.Query().Get("streams")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"stream":"btcusdt@miniTicker","data":{"e":"24hrMiniTicker","E":1,"s":"BTCUSDT","c":"43111.1"}}`))
		// 保持连接直到客户端断开
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer ts.Close()

	b, err := NewBinanceStream("binance-stream", Options{
		Symbols:   []string{"BTC-USD"},
		StreamURL: "ws" + strings.TrimPrefix(ts.URL, "http"),
	})
	require.NoError(t, err)
	require.NoError(t, b.Start(context.Background()))
	assert.Error(t, b.Start(context.Background()))

	select {
	case q := <-gotQuery:
		assert.Equal(t, "btcusdt@miniTicker", q)
	case <-time.After(2 * time.Second):
		t.Fatal("server never dialed")
	}
	require.Eventually(t, func() bool {
		return b.FetchPrices(context.Background(), []string{"BTC-USD"})["BTC-USD"] == 43111.1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, b.Stop())
}
