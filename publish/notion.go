package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	notionBaseURL = "https://api.notion.com"
	notionVersion = "2022-06-28"
	// Notion 单次追加 children 的上限
	notionMaxChildren = 100
)

// NotionConfig Notion 页面参数
type NotionConfig struct {
	Token   string
	PageID  string
	BaseURL string
	Version string
}

// NotionChannel 用最新报告替换页面内容：先归档已有子块，再追加新块。
type NotionChannel struct {
	cfg  NotionConfig
	http *http.Client
}

// NewNotionChannel 创建 Notion 通道
func NewNotionChannel(cfg NotionConfig, hc *http.Client) (*NotionChannel, error) {
	if cfg.Token == "" || cfg.PageID == "" {
		return nil, errors.New("notion token and page id are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = notionBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Version == "" {
		cfg.Version = notionVersion
	}
	if hc == nil {
		hc = &http.Client{Timeout: 20 * time.Second}
	}
	return &NotionChannel{cfg: cfg, http: hc}, nil
}

// Name 返回通道名称
func (c *NotionChannel) Name() string { return "notion" }

// Send 替换页面内容
func (c *NotionChannel) Send(ctx context.Context, r Report) error {
	ids, err := c.listChildren(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := c.do(ctx, http.MethodDelete, "/v1/blocks/"+id, nil); err != nil {
			return fmt.Errorf("archive block %s: %w", id, err)
		}
	}
	blocks := reportBlocks(r)
	for len(blocks) > 0 {
		n := len(blocks)
		if n > notionMaxChildren {
			n = notionMaxChildren
		}
		body := map[string]interface{}{"children": blocks[:n]}
		if _, err := c.do(ctx, http.MethodPatch, "/v1/blocks/"+c.cfg.PageID+"/children", body); err != nil {
			return fmt.Errorf("append blocks: %w", err)
		}
		blocks = blocks[n:]
	}
	return nil
}

func (c *NotionChannel) listChildren(ctx context.Context) ([]string, error) {
	var ids []string
	cursor := ""
	for {
		q := url.Values{"page_size": {"100"}}
		if cursor != "" {
			q.Set("start_cursor", cursor)
		}
		raw, err := c.do(ctx, http.MethodGet, "/v1/blocks/"+c.cfg.PageID+"/children?"+q.Encode(), nil)
		if err != nil {
			return nil, fmt.Errorf("list children: %w", err)
		}
		for _, id := range gjson.GetBytes(raw, "results.#.id").Array() {
			ids = append(ids, id.String())
		}
		if !gjson.GetBytes(raw, "has_more").Bool() {
			return ids, nil
		}
		cursor = gjson.GetBytes(raw, "next_cursor").String()
		if cursor == "" {
			return ids, nil
		}
	}
}

func (c *NotionChannel) do(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Notion-Version", c.cfg.Version)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		msg := gjson.GetBytes(raw, "message").String()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("notion %s %s: %d %s", method, path, resp.StatusCode, msg)
	}
	return raw, nil
}

type richText struct {
	Type string            `json:"type"`
	Text map[string]string `json:"text"`
}

func textBlock(kind, content string) map[string]interface{} {
	return map[string]interface{}{
		"object": "block",
		"type":   kind,
		kind: map[string]interface{}{
			"rich_text": []richText{{Type: "text", Text: map[string]string{"content": content}}},
		},
	}
}

// reportBlocks 标题 + 摘要段落 + 每个 symbol 的最优交易所对（列表项）
func reportBlocks(r Report) []map[string]interface{} {
	blocks := []map[string]interface{}{textBlock("heading_2", r.Title)}
	for _, line := range strings.Split(r.Summary, "\n") {
		blocks = append(blocks, textBlock("paragraph", line))
	}
	lines := bodyLines(r)
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		blocks = append(blocks, textBlock("bulleted_list_item", line))
	}
	blocks = append(blocks, textBlock("paragraph", "cycle "+r.CycleID))
	return blocks
}
