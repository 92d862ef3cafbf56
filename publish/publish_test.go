package publish

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/mail"
	"net/smtp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"arb-watch-go/arbitrage"
	"arb-watch-go/infrastructure/logger"
	"arb-watch-go/market"
	"arb-watch-go/snapshot"
)

func sampleReport(t *testing.T) Report {
	t.Helper()
	tbl := market.NewPriceTable(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	tbl.Set("kraken", "BTC-USD", 100)
	tbl.Set("coinbase", "BTC-USD", 102)
	tbl.Set("bitstamp", "BTC-USD", 99)
	calc := arbitrage.NewCalculator(nil, arbitrage.Options{})
	symbols := []string{"BTC-USD"}
	c := &snapshot.Cycle{
		ID:      "cycle-1",
		Started: tbl.Time(),
		Symbols: symbols,
		Prices:  tbl,
		Spreads: calc.Spreads(tbl, symbols),
		Edges:   calc.PairEdges(tbl, symbols),
	}
	r, err := NewReport(c, 4)
	require.NoError(t, err)
	return r
}

func TestNewReport(t *testing.T) {
	r := sampleReport(t)
	assert.Equal(t, "Crypto spreads 2024-05-01 12:00 UTC", r.Title)
	assert.Equal(t, "BTC-USD: 3.03% (buy bitstamp @ 99.00 → sell coinbase @ 102.00)", r.Summary)
	require.Len(t, r.Best, 1)
	assert.True(t, strings.HasPrefix(string(r.CSV), "ts,cycle_id,symbol"))
}

func TestManagerThrottles(t *testing.T) {
	ch := NewMockChannel("mock")
	m := NewManager([]Channel{ch}, time.Hour, nil)
	r := sampleReport(t)

	sent, err := m.Publish(context.Background(), r)
	require.NoError(t, err)
	assert.True(t, sent)
	sent, err = m.Publish(context.Background(), r)
	require.NoError(t, err)
	assert.False(t, sent)
	assert.Equal(t, 1, ch.Count())

	require.NoError(t, m.PublishNow(context.Background(), r))
	assert.Equal(t, 2, ch.Count())

	m.ResetThrottle()
	sent, _ = m.Publish(context.Background(), r)
	assert.True(t, sent)
}

func TestManagerPartialAndTotalFailure(t *testing.T) {
	bad := NewMockChannel("bad")
	bad.SetShouldError(true)
	good := NewMockChannel("good")
	var mu sync.Mutex
	var failed []string
	m := NewManager([]Channel{bad, good}, 0, func(name string, err error) {
		mu.Lock()
		failed = append(failed, name)
		mu.Unlock()
	})

	require.NoError(t, m.PublishNow(context.Background(), sampleReport(t)))
	assert.Equal(t, []string{"bad"}, failed)

	good.SetShouldError(true)
	err := m.PublishNow(context.Background(), sampleReport(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel good failed")
	assert.Equal(t, []string{"bad", "good"}, m.GetChannels())
}

func TestManagerWithoutChannels(t *testing.T) {
	m := NewManager(nil, 0, nil)
	assert.ErrorIs(t, m.PublishNow(context.Background(), Report{}), ErrNoChannels)
	m.AddChannel(NewMockChannel("late"))
	assert.NoError(t, m.PublishNow(context.Background(), Report{}))
}

func TestLogChannel(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	ch := NewLogChannel("log", logger.Wrap(zap.New(core)))
	require.NoError(t, ch.Send(context.Background(), sampleReport(t)))
	assert.Equal(t, 1, logs.FilterMessage("spread_report").Len())
	spreads := logs.FilterMessage("spread").All()
	require.Len(t, spreads, 1)
	assert.Equal(t, "bitstamp", spreads[0].ContextMap()["buy"])
}

func TestEmailChannelBuildsMultipartMessage(t *testing.T) {
	ch, err := NewEmailChannel(EmailConfig{Host: "smtp.example.com", Username: "bot@example.com", Password: "pw", To: []string{"me@example.com"}})
	require.NoError(t, err)

	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	var gotAuth smtp.Auth
	ch.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotAuth, gotFrom, gotTo, gotMsg = addr, a, from, to, msg
		return nil
	}
	r := sampleReport(t)
	require.NoError(t, ch.Send(context.Background(), r))

	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.NotNil(t, gotAuth)
	assert.Equal(t, "bot@example.com", gotFrom)
	assert.Equal(t, []string{"me@example.com"}, gotTo)

	msg, err := mail.ReadMessage(strings.NewReader(string(gotMsg)))
	require.NoError(t, err)
	subject, err := new(mime.WordDecoder).DecodeHeader(msg.Header.Get("Subject"))
	require.NoError(t, err)
	assert.Equal(t, r.Title, subject)

	mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/mixed", mediaType)
	mr := multipart.NewReader(msg.Body, params["boundary"])

	text, err := mr.NextPart()
	require.NoError(t, err)
	body, err := io.ReadAll(text)
	require.NoError(t, err)
	assert.Contains(t, string(body), r.Summary)

	att, err := mr.NextPart()
	require.NoError(t, err)
	assert.Equal(t, "sym_summary_20240501_1200.csv", att.FileName())
	encoded, err := io.ReadAll(att)
	require.NoError(t, err)
	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(string(encoded), "\r\n", ""))
	require.NoError(t, err)
	assert.Equal(t, r.CSV, decoded)
}

func TestEmailChannelErrors(t *testing.T) {
	_, err := NewEmailChannel(EmailConfig{To: []string{"x@example.com"}})
	assert.Error(t, err)
	_, err = NewEmailChannel(EmailConfig{Host: "h"})
	assert.Error(t, err)

	ch, err := NewEmailChannel(EmailConfig{Host: "h", From: "a@example.com", To: []string{"b@example.com"}})
	require.NoError(t, err)
	ch.sendMail = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("550 rejected") }
	assert.ErrorContains(t, ch.Send(context.Background(), sampleReport(t)), "550 rejected")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, ch.Send(ctx, sampleReport(t)), context.Canceled)
}

func TestNotionChannelReplacesChildren(t *testing.T) {
	var mu sync.Mutex
	var deleted []string
	var appended []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, notionVersion, r.Header.Get("Notion-Version"))
		mu.Lock()
		defer mu.Unlock()
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/blocks/page-1/children":
			if r.URL.Query().Get("start_cursor") == "" {
				io.WriteString(w, `{"results":[{"id":"b1"},{"id":"b2"}],"has_more":true,"next_cursor":"c2"}`)
				return
			}
			io.WriteString(w, `{"results":[{"id":"b3"}],"has_more":false,"next_cursor":null}`)
		case r.Method == http.MethodDelete:
			deleted = append(deleted, strings.TrimPrefix(r.URL.Path, "/v1/blocks/"))
			io.WriteString(w, `{}`)
		case r.Method == http.MethodPatch && r.URL.Path == "/v1/blocks/page-1/children":
			raw, _ := io.ReadAll(r.Body)
			for _, b := range gjson.GetBytes(raw, "children").Array() {
				appended = append(appended, b.Get("type").String())
			}
			io.WriteString(w, `{}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer ts.Close()

	ch, err := NewNotionChannel(NotionConfig{Token: "secret", PageID: "page-1", BaseURL: ts.URL}, ts.Client())
	require.NoError(t, err)
	require.NoError(t, ch.Send(context.Background(), sampleReport(t)))

	assert.Equal(t, []string{"b1", "b2", "b3"}, deleted)
	assert.Equal(t, []string{"heading_2", "paragraph", "bulleted_list_item", "paragraph"}, appended)
}

func TestNotionChannelSurfacesAPIError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"object":"error","status":401,"message":"API token is invalid."}`)
	}))
	defer ts.Close()
	ch, err := NewNotionChannel(NotionConfig{Token: "bad", PageID: "p", BaseURL: ts.URL}, nil)
	require.NoError(t, err)
	assert.ErrorContains(t, ch.Send(context.Background(), sampleReport(t)), "API token is invalid.")

	_, err = NewNotionChannel(NotionConfig{}, nil)
	assert.Error(t, err)
}
