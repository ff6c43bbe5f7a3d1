package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/jgoulah/delcoscraper/internal/config"
	"github.com/jgoulah/delcoscraper/pkg/models"
)

// External statistic ids shown in the Energy dashboard
const (
	StatisticSource      = "delco_water"
	ConsumptionStatistic = "delco_water:consumption"
	CostStatistic        = "delco_water:cost"
)

const (
	writeWait = 10 * time.Second
	readWait  = 30 * time.Second
)

// ErrAuthInvalid is returned when Home Assistant rejects the access token
var ErrAuthInvalid = errors.New("home assistant rejected the access token")

// StatisticMetadata describes an external statistic series
type StatisticMetadata struct {
	HasMean           bool   `json:"has_mean"`
	HasSum            bool   `json:"has_sum"`
	Name              string `json:"name"`
	Source            string `json:"source"`
	StatisticID       string `json:"statistic_id"`
	UnitOfMeasurement string `json:"unit_of_measurement"`
}

// ConsumptionMetadata is the water consumption series, in gallons
var ConsumptionMetadata = StatisticMetadata{
	HasSum:            true,
	Name:              "Del-Co Water Consumption",
	Source:            StatisticSource,
	StatisticID:       ConsumptionStatistic,
	UnitOfMeasurement: "gal",
}

// CostMetadata is the water cost series, in USD
var CostMetadata = StatisticMetadata{
	HasSum:            true,
	Name:              "Del-Co Water Cost",
	Source:            StatisticSource,
	StatisticID:       CostStatistic,
	UnitOfMeasurement: "USD",
}

// StatisticRow is one hourly-aligned statistics entry
type StatisticRow struct {
	Start time.Time `json:"start"`
	State float64   `json:"state"`
	Sum   float64   `json:"sum"`
}

// BuildStatistics turns periods into consumption and cost rows, one per
// period stamped at its start. Sums run over the whole series, so the same
// periods always produce the same rows.
func BuildStatistics(periods []models.BillingPeriod) (consumption, cost []StatisticRow) {
	ordered := make([]models.BillingPeriod, len(periods))
	copy(ordered, periods)
	sortPeriods(ordered)

	var gallonsSum, costSum decimal.Decimal
	for _, p := range ordered {
		start := p.StartDate.UTC().Truncate(time.Hour)
		gallons := p.Gallons()
		gallonsSum = gallonsSum.Add(gallons)
		costSum = costSum.Add(p.CostUSD)

		consumption = append(consumption, StatisticRow{
			Start: start,
			State: gallons.InexactFloat64(),
			Sum:   gallonsSum.InexactFloat64(),
		})
		cost = append(cost, StatisticRow{
			Start: start,
			State: p.CostUSD.InexactFloat64(),
			Sum:   costSum.InexactFloat64(),
		})
	}
	return consumption, cost
}

func sortPeriods(periods []models.BillingPeriod) {
	sort.SliceStable(periods, func(i, j int) bool {
		return periods[i].StartDate.Before(periods[j].StartDate)
	})
}

// Series is one statistic and its rows
type Series struct {
	Metadata StatisticMetadata
	Rows     []StatisticRow
}

// HAClient talks to the Home Assistant websocket API
type HAClient struct {
	url    string
	token  string
	dialer *websocket.Dialer
	logger *zap.Logger
}

// NewHAClient creates a client from the home_assistant config section
func NewHAClient(cfg config.HAConfig, logger *zap.Logger) (*HAClient, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("Home Assistant publishing is not enabled in config")
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("Home Assistant URL is required when enabled")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("Home Assistant token is required when enabled")
	}
	wsURL, err := websocketURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HAClient{
		url:    wsURL,
		token:  cfg.Token,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger: logger,
	}, nil
}

// websocketURL maps http(s)://host:8123 to ws(s)://host:8123/api/websocket
func websocketURL(base string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", fmt.Errorf("parsing Home Assistant URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported Home Assistant URL scheme %q", u.Scheme)
	}
	if !strings.HasSuffix(u.Path, "/api/websocket") {
		u.Path += "/api/websocket"
	}
	return u.String(), nil
}

type wsMessage struct {
	ID      int             `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success bool            `json:"success,omitempty"`
	Message string          `json:"message,omitempty"`
	Error   *wsError        `json:"error,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

type wsError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type clearRequest struct {
	ID           int      `json:"id"`
	Type         string   `json:"type"`
	StatisticIDs []string `json:"statistic_ids"`
}

type importRequest struct {
	ID       int               `json:"id"`
	Type     string            `json:"type"`
	Metadata StatisticMetadata `json:"metadata"`
	Stats    []StatisticRow    `json:"stats"`
}

// ImportStatistics replaces each series: the statistic is cleared with
// recorder/clear_statistics and the rows are sent with
// recorder/import_statistics, all over one authenticated connection. Import
// only upserts by start, so rows for periods replaced since the last import
// have to be cleared first.
func (c *HAClient) ImportStatistics(ctx context.Context, series ...Series) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", c.url, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := c.authenticate(conn); err != nil {
		return err
	}

	var ids []string
	for _, ser := range series {
		if len(ser.Rows) > 0 {
			ids = append(ids, ser.Metadata.StatisticID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	id := 1
	wipe := clearRequest{ID: id, Type: "recorder/clear_statistics", StatisticIDs: ids}
	if err := c.call(conn, id, wipe); err != nil {
		return fmt.Errorf("clearing %s: %w", strings.Join(ids, ", "), err)
	}

	for _, ser := range series {
		meta, rows := ser.Metadata, ser.Rows
		if len(rows) == 0 {
			continue
		}
		id++
		req := importRequest{ID: id, Type: "recorder/import_statistics", Metadata: meta, Stats: rows}
		if err := c.call(conn, id, req); err != nil {
			return fmt.Errorf("importing %s: %w", meta.StatisticID, err)
		}
		c.logger.Info("imported statistics",
			zap.String("statistic_id", meta.StatisticID),
			zap.Int("rows", len(rows)))
	}
	return nil
}

// call sends one command and waits for its result
func (c *HAClient) call(conn *websocket.Conn, id int, req any) error {
	if err := writeJSON(conn, req); err != nil {
		return fmt.Errorf("sending: %w", err)
	}
	resp, err := readUntil(conn, id)
	if err != nil {
		return err
	}
	if !resp.Success {
		msg := "unknown error"
		if resp.Error != nil {
			msg = fmt.Sprintf("%s: %s", resp.Error.Code, resp.Error.Message)
		}
		return errors.New(msg)
	}
	return nil
}

func (c *HAClient) authenticate(conn *websocket.Conn) error {
	var msg wsMessage
	if err := readJSON(conn, &msg); err != nil {
		return fmt.Errorf("reading auth request: %w", err)
	}
	if msg.Type != "auth_required" {
		return fmt.Errorf("unexpected first message %q", msg.Type)
	}

	auth := map[string]string{"type": "auth", "access_token": c.token}
	if err := writeJSON(conn, auth); err != nil {
		return fmt.Errorf("sending auth: %w", err)
	}

	if err := readJSON(conn, &msg); err != nil {
		return fmt.Errorf("reading auth result: %w", err)
	}
	switch msg.Type {
	case "auth_ok":
		return nil
	case "auth_invalid":
		return fmt.Errorf("%w: %s", ErrAuthInvalid, msg.Message)
	default:
		return fmt.Errorf("unexpected auth response %q", msg.Type)
	}
}

// readUntil skips events until the result for id arrives
func readUntil(conn *websocket.Conn, id int) (wsMessage, error) {
	for {
		var msg wsMessage
		if err := readJSON(conn, &msg); err != nil {
			return msg, err
		}
		if msg.Type == "result" && msg.ID == id {
			return msg, nil
		}
	}
}

func readJSON(conn *websocket.Conn, v any) error {
	conn.SetReadDeadline(time.Now().Add(readWait))
	return conn.ReadJSON(v)
}

func writeJSON(conn *websocket.Conn, v any) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}
