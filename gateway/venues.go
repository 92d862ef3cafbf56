package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
)

// restSource 一个 REST adapter：名字 + 共用 client + 单 symbol 查询函数。
type restSource struct {
	name  string
	c     *restClient
	fetch func(ctx context.Context, c *restClient, symbol string) (float64, error)
}

func (s *restSource) Name() string { return s.name }

func (s *restSource) FetchPrices(ctx context.Context, symbols []string) map[string]float64 {
	return s.c.fetchEach(ctx, symbols, func(ctx context.Context, sym string) (float64, error) {
		return s.fetch(ctx, s.c, sym)
	})
}

func newCoinbase(name string, opts Options) (Source, error) {
	return &restSource{
		name: name,
		c:    newRESTClient(name, "https://api.exchange.coinbase.com", opts),
		fetch: func(ctx context.Context, c *restClient, sym string) (float64, error) {
			base, quote, err := SplitSymbol(sym)
			if err != nil {
				return 0, err
			}
			body, err := c.get(ctx, "/products/"+base+"-"+quote+"/ticker", nil)
			if err != nil {
				return 0, err
			}
			return parsePrice(gjson.GetBytes(body, "price"))
		},
	}, nil
}

func newBinance(name string, opts Options) (Source, error) {
	return &restSource{
		name: name,
		c:    newRESTClient(name, "https://api.binance.com", opts),
		fetch: func(ctx context.Context, c *restClient, sym string) (float64, error) {
			pair, err := binanceSymbol(sym)
			if err != nil {
				return 0, err
			}
			body, err := c.get(ctx, "/api/v3/ticker/price", url.Values{"symbol": {pair}})
			if err != nil {
				return 0, err
			}
			return parsePrice(gjson.GetBytes(body, "price"))
		},
	}, nil
}

func newKraken(name string, opts Options) (Source, error) {
	return &restSource{
		name: name,
		c:    newRESTClient(name, "https://api.kraken.com", opts),
		fetch: func(ctx context.Context, c *restClient, sym string) (float64, error) {
			pair, err := krakenPair(sym)
			if err != nil {
				return 0, err
			}
			body, err := c.get(ctx, "/0/public/Ticker", url.Values{"pair": {pair}})
			if err != nil {
				return 0, err
			}
			if errs := gjson.GetBytes(body, "error"); len(errs.Array()) > 0 {
				return 0, fmt.Errorf("kraken %s: %s", pair, errs.Array()[0].String())
			}
			// result 的 key 是 Kraken 自己的规范名，可能与请求的 pair 不同，取第一个即可
			var last gjson.Result
			gjson.GetBytes(body, "result").ForEach(func(_, v gjson.Result) bool {
				last = v.Get("c.0")
				return false
			})
			return parsePrice(last)
		},
	}, nil
}

func newBitstamp(name string, opts Options) (Source, error) {
	return &restSource{
		name: name,
		c:    newRESTClient(name, "https://www.bitstamp.net", opts),
		fetch: func(ctx context.Context, c *restClient, sym string) (float64, error) {
			pair, err := bitstampPair(sym)
			if err != nil {
				return 0, err
			}
			body, err := c.get(ctx, "/api/v2/ticker/"+pair, nil)
			if err != nil {
				return 0, err
			}
			return parsePrice(gjson.GetBytes(body, "last"))
		},
	}, nil
}

func newBitfinex(name string, opts Options) (Source, error) {
	return &restSource{
		name: name,
		c:    newRESTClient(name, "https://api-pub.bitfinex.com", opts),
		fetch: func(ctx context.Context, c *restClient, sym string) (float64, error) {
			pair, err := bitfinexSymbol(sym)
			if err != nil {
				return 0, err
			}
			body, err := c.get(ctx, "/v2/ticker/"+pair, nil)
			if err != nil {
				return 0, err
			}
			// [BID, BID_SIZE, ASK, ASK_SIZE, DAILY_CHANGE, DAILY_CHANGE_PERC, LAST_PRICE, ...]
			arr := gjson.ParseBytes(body)
			if !arr.IsArray() {
				return 0, errors.New("bitfinex ticker is not an array")
			}
			if first := arr.Get("0"); first.Type == gjson.String && first.Str == "error" {
				return 0, fmt.Errorf("bitfinex %s: %s", pair, arr.Get("2").String())
			}
			return parsePrice(arr.Get("6"))
		},
	}, nil
}

// coingeckoSource 一次请求取全部 symbol，只支持 CoinGecko 有 id 映射的币。
type coingeckoSource struct {
	name string
	c    *restClient
}

func newCoingecko(name string, opts Options) (Source, error) {
	return &coingeckoSource{name: name, c: newRESTClient(name, "https://api.coingecko.com", opts)}, nil
}

func (s *coingeckoSource) Name() string { return s.name }

func (s *coingeckoSource) FetchPrices(ctx context.Context, symbols []string) map[string]float64 {
	out := make(map[string]float64, len(symbols))
	type want struct{ sym, id, vs string }
	wants := make([]want, 0, len(symbols))
	ids := make([]string, 0, len(symbols))
	vss := make([]string, 0, 1)
	seenID := map[string]bool{}
	seenVS := map[string]bool{}
	for _, sym := range symbols {
		base, quote, err := SplitSymbol(sym)
		if err != nil {
			s.c.report(sym, err)
			continue
		}
		id, ok := coingeckoIDs[base]
		if !ok {
			s.c.report(sym, fmt.Errorf("no coingecko id for %s", base))
			continue
		}
		vs := strings.ToLower(quote)
		wants = append(wants, want{sym: sym, id: id, vs: vs})
		if !seenID[id] {
			seenID[id] = true
			ids = append(ids, id)
		}
		if !seenVS[vs] {
			seenVS[vs] = true
			vss = append(vss, vs)
		}
	}
	if len(wants) == 0 {
		return out
	}
	body, err := s.c.get(ctx, "/api/v3/simple/price", url.Values{
		"ids":           {strings.Join(ids, ",")},
		"vs_currencies": {strings.Join(vss, ",")},
	})
	if err != nil {
		s.c.report("", err)
		return out
	}
	for _, w := range wants {
		px, err := parsePrice(gjson.GetBytes(body, w.id+"."+w.vs))
		if err != nil {
			s.c.report(w.sym, err)
			continue
		}
		out[w.sym] = px
	}
	return out
}

// staticSource 固定价格的演示源，不发网络请求。
type staticSource struct {
	name   string
	prices map[string]float64
}

func newStatic(name string, opts Options) (Source, error) {
	prices := make(map[string]float64, len(opts.Prices))
	for sym, px := range opts.Prices {
		if !ValidPrice(px) {
			return nil, fmt.Errorf("static %s: price for %s must be a finite number > 0", name, sym)
		}
		prices[strings.ToUpper(sym)] = px
	}
	return &staticSource{name: name, prices: prices}, nil
}

func (s *staticSource) Name() string { return s.name }

func (s *staticSource) FetchPrices(_ context.Context, symbols []string) map[string]float64 {
	out := make(map[string]float64, len(symbols))
	for _, sym := range symbols {
		if px, ok := s.prices[strings.ToUpper(sym)]; ok {
			out[sym] = px
		}
	}
	return out
}
