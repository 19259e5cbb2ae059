package pricing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/rhernaus/victron-alfen-charger-sub000/errcode"
)

const (
	tibberEndpoint = "https://api.tibber.com/v1-beta/gql"
	tibberQuery    = `{ viewer { homes { currentSubscription { priceInfo { current { total level startsAt } } } } } }`

	// DefaultRefreshInterval matches the hourly price granularity with
	// margin for clock skew around the hour boundary.
	DefaultRefreshInterval = 5 * time.Minute
)

// Tibber fetches the current hourly price level from the Tibber GraphQL
// API and maps it to a charge/no-charge verdict.
type Tibber struct {
	cache

	token             string
	chargeOnCheap     bool
	chargeOnVeryCheap bool

	endpoint string
	client   *http.Client
	log      zerolog.Logger
	now      func() time.Time
}

func NewTibber(token string, chargeOnCheap, chargeOnVeryCheap bool, log zerolog.Logger) *Tibber {
	return &Tibber{
		token:             token,
		chargeOnCheap:     chargeOnCheap,
		chargeOnVeryCheap: chargeOnVeryCheap,
		endpoint:          tibberEndpoint,
		client:            &http.Client{Timeout: 10 * time.Second},
		log:               log,
		now:               time.Now,
	}
}

type tibberResponse struct {
	Data struct {
		Viewer struct {
			Homes []struct {
				CurrentSubscription struct {
					PriceInfo struct {
						Current struct {
							Total    float64 `json:"total"`
							Level    string  `json:"level"`
							StartsAt string  `json:"startsAt"`
						} `json:"current"`
					} `json:"priceInfo"`
				} `json:"currentSubscription"`
			} `json:"homes"`
		} `json:"viewer"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Refresh fetches one quote and stores it in the cache. On failure the
// previous quote stays served.
func (t *Tibber) Refresh(ctx context.Context) error {
	body, err := json.Marshal(map[string]string{"query": tibberQuery})
	if err != nil {
		return errcode.Wrap(errcode.Protocol, "tibber.marshal", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return errcode.Wrap(errcode.Protocol, "tibber.request", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return errcode.Wrap(errcode.Conn, "tibber.fetch", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return errcode.Wrap(errcode.Protocol, "tibber.fetch",
			fmt.Errorf("status %s", resp.Status))
	}

	var parsed tibberResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return errcode.Wrap(errcode.Protocol, "tibber.decode", err)
	}
	if len(parsed.Errors) > 0 {
		return errcode.Wrap(errcode.Protocol, "tibber.query",
			fmt.Errorf("%s", parsed.Errors[0].Message))
	}
	homes := parsed.Data.Viewer.Homes
	if len(homes) == 0 {
		return errcode.Wrap(errcode.Protocol, "tibber.query",
			fmt.Errorf("no homes on subscription"))
	}

	cur := homes[0].CurrentSubscription.PriceInfo.Current
	level := Level(cur.Level)
	q := Quote{
		Level:     level,
		Total:     cur.Total,
		OK:        t.favourable(level),
		FetchedAt: t.now(),
	}
	t.store(q)
	t.log.Debug().Str("level", string(level)).Float64("total", cur.Total).
		Bool("charge", q.OK).Msg("price refreshed")
	return nil
}

func (t *Tibber) favourable(l Level) bool {
	switch l {
	case LevelVeryCheap:
		return t.chargeOnVeryCheap || t.chargeOnCheap
	case LevelCheap:
		return t.chargeOnCheap
	default:
		return false
	}
}
