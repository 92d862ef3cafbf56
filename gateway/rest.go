package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"github.com/tidwall/gjson"
)

const (
	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 1 << 20
)

// restClient 各 REST adapter 共用：限速 → 熔断 → GET → 读取 body。
type restClient struct {
	venue   string
	baseURL string
	http    *http.Client
	limiter RateLimiter
	breaker *gobreaker.CircuitBreaker
	onError ErrorHook
}

func newRESTClient(venue, defaultBase string, opts Options) *restClient {
	base := opts.BaseURL
	if base == "" {
		base = defaultBase
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}
	st := gobreaker.Settings{
		Name:     venue,
		Interval: 60 * time.Second,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			var se *StatusError
			if errors.As(err, &se) {
				return se.clientSide()
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
	}
	return &restClient{
		venue:   venue,
		baseURL: strings.TrimRight(base, "/"),
		http:    hc,
		limiter: NewRateLimiter(opts.RateLimit, opts.Burst),
		breaker: gobreaker.NewCircuitBreaker(st),
		onError: opts.OnError,
	}
}

// get 请求 baseURL+path，返回 body。
func (c *restClient) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	out, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
			return nil, &StatusError{Code: resp.StatusCode, URL: endpoint}
		}
		return io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	})
	if err != nil {
		return nil, err
	}
	body := out.([]byte)
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%s: invalid json from %s", c.venue, path)
	}
	return body, nil
}

func (c *restClient) report(symbol string, err error) {
	if c.onError != nil && err != nil {
		c.onError(c.venue, symbol, err)
	}
}

// fetchEach 逐个 symbol 请求，fn 返回价格或错误；错误只上报不返回。
func (c *restClient) fetchEach(ctx context.Context, symbols []string, fn func(ctx context.Context, symbol string) (float64, error)) map[string]float64 {
	out := make(map[string]float64, len(symbols))
	for _, sym := range symbols {
		if ctx.Err() != nil {
			c.report("", ctx.Err())
			break
		}
		px, err := fn(ctx, sym)
		if err != nil {
			c.report(sym, err)
			continue
		}
		out[sym] = px
	}
	return out
}

// parsePrice 交易所价格常以字符串形式返回，统一转成 float 并要求是有限正数。
func parsePrice(r gjson.Result) (float64, error) {
	if !r.Exists() {
		return 0, errors.New("price field missing")
	}
	var px float64
	switch r.Type {
	case gjson.Number:
		px = r.Num
	case gjson.String:
		v := gjson.Parse(r.Str)
		if v.Type != gjson.Number {
			return 0, fmt.Errorf("price %q is not numeric", r.Str)
		}
		px = v.Num
	default:
		return 0, fmt.Errorf("unexpected price type %s", r.Type)
	}
	if !ValidPrice(px) {
		return 0, fmt.Errorf("invalid price %v", px)
	}
	return px, nil
}
