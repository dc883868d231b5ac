package news

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"upagent/internal/logger"
)

const defaultEndpoint = "https://newsapi.org/v2/everything"

// Article 是一条公司新闻摘要。
type Article struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Source      string    `json:"source"`
	URL         string    `json:"url"`
	PublishedAt time.Time `json:"published_at"`
}

// Client 从 NewsAPI 拉取公司相关头条。拿不到新闻按空结果处理，不报错中断周期。
type Client struct {
	endpoint     string
	apiKey       string
	pageSize     int
	lookbackDays int
	client       *http.Client
}

type Config struct {
	APIKey       string
	PageSize     int
	LookbackDays int
	Timeout      time.Duration
}

func NewClient(cfg Config) *Client {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 10
	}
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		endpoint:     defaultEndpoint,
		apiKey:       strings.TrimSpace(cfg.APIKey),
		pageSize:     cfg.PageSize,
		lookbackDays: cfg.LookbackDays,
		client:       &http.Client{Timeout: cfg.Timeout},
	}
}

type apiResponse struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Articles []struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		URL         string `json:"url"`
		PublishedAt string `json:"publishedAt"`
		Source      struct {
			Name string `json:"name"`
		} `json:"source"`
	} `json:"articles"`
}

// GetCompanyNews 按公司名检索最近的头条，时间倒序。
func (c *Client) GetCompanyNews(ctx context.Context, company string) ([]Article, error) {
	if c == nil || c.client == nil {
		return nil, fmt.Errorf("news client 未初始化")
	}
	company = strings.TrimSpace(company)
	if company == "" {
		return nil, fmt.Errorf("company 不能为空")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	from := time.Now().AddDate(0, 0, -c.lookbackDays).Format("2006-01-02")
	q := url.Values{}
	q.Set("q", fmt.Sprintf("%q", company))
	q.Set("from", from)
	q.Set("sortBy", "publishedAt")
	q.Set("language", "en")
	q.Set("pageSize", fmt.Sprintf("%d", c.pageSize))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("newsapi 返回 %s", resp.Status)
	}

	var payload apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	if payload.Status != "ok" {
		return nil, fmt.Errorf("newsapi 错误: %s", payload.Message)
	}

	out := make([]Article, 0, len(payload.Articles))
	for _, a := range payload.Articles {
		title := strings.TrimSpace(a.Title)
		if title == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, a.PublishedAt)
		if err != nil {
			ts = time.Time{}
		}
		out = append(out, Article{
			Title:       title,
			Description: strings.TrimSpace(a.Description),
			Source:      strings.TrimSpace(a.Source.Name),
			URL:         a.URL,
			PublishedAt: ts,
		})
	}
	logger.Debugf("[news] %s 命中 %d 条", company, len(out))
	return out, nil
}
