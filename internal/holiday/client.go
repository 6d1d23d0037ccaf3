package holiday

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"remindtab/internal/core"
)

const DefaultURLTemplate = "https://www.mxnzp.com/api/holiday/list/year/{year}"

var (
	// ErrNotConfigured is returned when the provider credentials are missing.
	ErrNotConfigured = errors.New("holiday provider is not configured")
	// ErrProvider is returned when the provider answers with an error payload.
	ErrProvider = errors.New("holiday provider error")
)

// ClientConfig configures the calendar provider.
type ClientConfig struct {
	URLTemplate string
	AppID       string
	AppSecret   string
	Timeout     time.Duration
	// RequestsPerSecond throttles calls to the provider. Zero means one per second.
	RequestsPerSecond float64
}

// Client fetches the day classifications of a year from the provider.
type Client struct {
	cfg     ClientConfig
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient constructs a provider client. httpClient may be nil.
func NewClient(cfg ClientConfig, httpClient *http.Client) *Client {
	if cfg.URLTemplate == "" {
		cfg.URLTemplate = DefaultURLTemplate
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 1
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		cfg:     cfg,
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
	}
}

type yearResponse struct {
	Code int          `json:"code"`
	Msg  string       `json:"msg"`
	Data []monthBlock `json:"data"`
}

type monthBlock struct {
	Month int        `json:"month"`
	Year  int        `json:"year"`
	Days  []dayEntry `json:"days"`
}

type dayEntry struct {
	Date          string `json:"date"`
	WeekDay       int    `json:"weekDay"`
	Type          int    `json:"type"`
	TypeDes       string `json:"typeDes"`
	LunarCalendar string `json:"lunarCalendar"`
}

// FetchYear downloads and converts one year of calendar data.
func (c *Client) FetchYear(ctx context.Context, year int) ([]core.CalendarDay, error) {
	if c.cfg.AppID == "" || c.cfg.AppSecret == "" {
		return nil, ErrNotConfigured
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	endpoint := strings.ReplaceAll(c.cfg.URLTemplate, "{year}", strconv.Itoa(year))
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse provider url: %w", err)
	}
	q := u.Query()
	q.Set("app_id", c.cfg.AppID)
	q.Set("app_secret", c.cfg.AppSecret)
	q.Set("ignoreHoliday", "false")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request calendar %d: %w", year, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: calendar %d: status %d: %s", ErrProvider, year, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload yearResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode calendar %d: %w", year, err)
	}
	if payload.Code != 1 {
		return nil, fmt.Errorf("%w: calendar %d: %s", ErrProvider, year, payload.Msg)
	}
	return convertDays(year, payload.Data)
}

func convertDays(year int, months []monthBlock) ([]core.CalendarDay, error) {
	var days []core.CalendarDay
	for _, m := range months {
		for _, d := range m.Days {
			t, err := time.Parse("2006-01-02", d.Date)
			if err != nil {
				return nil, fmt.Errorf("%w: bad date %q", ErrProvider, d.Date)
			}
			weekday := d.WeekDay
			if weekday < 1 || weekday > 7 {
				weekday = core.ISOWeekday(t)
			}
			days = append(days, core.CalendarDay{
				Date:      d.Date,
				Year:      t.Year(),
				Month:     int(t.Month()),
				Day:       t.Day(),
				Weekday:   weekday,
				Type:      dayType(d.Type),
				TypeDesc:  d.TypeDes,
				LunarText: d.LunarCalendar,
			})
		}
	}
	if len(days) == 0 {
		return nil, fmt.Errorf("%w: calendar %d is empty", ErrProvider, year)
	}
	return days, nil
}

func dayType(v int) core.DayType {
	switch core.DayType(v) {
	case core.DayTypeWorkday, core.DayTypeHoliday, core.DayTypeLegalHoliday:
		return core.DayType(v)
	}
	return core.DayTypeUnknown
}
