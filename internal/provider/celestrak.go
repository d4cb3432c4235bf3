package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/star/satpass/internal/apperr"
)

// DefaultCelesTrakURL is the CelesTrak base URL.
const DefaultCelesTrakURL = "https://celestrak.org"

// Bodies CelesTrak returns with a 200 status when nothing matches.
var celestrakNoData = []string{"No GP data found", "No data found", "No SATCAT records found"}

// CelesTrak is an Elements and Directory provider backed by the CelesTrak GP
// and SATCAT endpoints.
type CelesTrak struct {
	baseURL string
	get     *getter
}

// NewCelesTrak creates a CelesTrak client. An empty opts.BaseURL selects
// DefaultCelesTrakURL.
func NewCelesTrak(opts Options, logger *slog.Logger) *CelesTrak {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = DefaultCelesTrakURL
	}
	return &CelesTrak{
		baseURL: base,
		get:     newGetter("celestrak", opts, logger),
	}
}

// BaseURL returns the configured base URL.
func (c *CelesTrak) BaseURL() string {
	return c.baseURL
}

// FetchTLE returns the current element set text for noradID with carriage
// returns and trailing whitespace removed.
func (c *CelesTrak) FetchTLE(ctx context.Context, noradID int) (text string, err error) {
	const op = "celestrak.fetch_tle"
	defer c.get.track(time.Now(), &err)

	q := url.Values{}
	q.Set("CATNR", strconv.Itoa(noradID))
	q.Set("FORMAT", "tle")

	resp, err := c.get.get(ctx, op, c.baseURL+"/NORAD/elements/gp.php?"+q.Encode())
	if err != nil {
		return "", err
	}
	if err := checkStatus(op, resp); err != nil {
		return "", err
	}

	text = strings.TrimRight(strings.ReplaceAll(string(resp.body), "\r", ""), " \t\n")
	if text == "" || isNoData(resp.body) {
		return "", apperr.NotFound(op, "no element set for NORAD id %d", noradID)
	}
	return text, nil
}

// satcatRecord is the subset of a SATCAT JSON record satpass uses.
type satcatRecord struct {
	ObjectName string `json:"OBJECT_NAME"`
	NoradCatID int    `json:"NORAD_CAT_ID"`
}

// LookupName returns the catalog name of an active satellite.
func (c *CelesTrak) LookupName(ctx context.Context, noradID int) (name string, err error) {
	const op = "celestrak.lookup_name"
	defer c.get.track(time.Now(), &err)

	q := url.Values{}
	q.Set("CATNR", strconv.Itoa(noradID))
	records, err := c.satcat(ctx, op, q)
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return "", apperr.NotFound(op, "no satellite found for NORAD id %d", noradID)
	}
	return strings.TrimSpace(records[0].ObjectName), nil
}

// LookupIDs returns the ids of active satellites whose name contains name,
// compared case-insensitively, in provider order without duplicates.
func (c *CelesTrak) LookupIDs(ctx context.Context, name string) (ids []int, err error) {
	const op = "celestrak.lookup_ids"
	defer c.get.track(time.Now(), &err)

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.InvalidArgument(op, "name must not be empty")
	}

	q := url.Values{}
	q.Set("NAME", name)
	records, err := c.satcat(ctx, op, q)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(name)
	seen := make(map[int]bool, len(records))
	for _, r := range records {
		if !strings.Contains(strings.ToLower(r.ObjectName), needle) || seen[r.NoradCatID] {
			continue
		}
		seen[r.NoradCatID] = true
		ids = append(ids, r.NoradCatID)
	}
	if len(ids) == 0 {
		return nil, apperr.NotFound(op, "no satellite found with name containing %q", name)
	}
	return ids, nil
}

func (c *CelesTrak) satcat(ctx context.Context, op string, q url.Values) ([]satcatRecord, error) {
	q.Set("ACTIVE", "true")
	q.Set("FORMAT", "json")

	resp, err := c.get.get(ctx, op, c.baseURL+"/satcat/records.php?"+q.Encode())
	if err != nil {
		return nil, err
	}
	if err := checkStatus(op, resp); err != nil {
		return nil, err
	}

	body := bytes.TrimSpace(resp.body)
	if len(body) == 0 || isNoData(body) {
		return nil, nil
	}

	var records []satcatRecord
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, apperr.Unavailable(op, err, "malformed SATCAT response")
	}
	return records, nil
}

// checkStatus maps a non-200 reply to NotFound (404) or ProviderUnavailable.
func checkStatus(op string, resp response) error {
	switch {
	case resp.status == http.StatusOK:
		return nil
	case resp.status == http.StatusNotFound:
		return apperr.NotFound(op, "upstream returned 404")
	default:
		return apperr.Unavailable(op, fmt.Errorf("status %d", resp.status), "unexpected upstream status")
	}
}

func isNoData(body []byte) bool {
	for _, marker := range celestrakNoData {
		if bytes.Contains(body, []byte(marker)) {
			return true
		}
	}
	return false
}
