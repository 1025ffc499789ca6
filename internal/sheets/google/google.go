// Package google exports expenses and analytics to a Google Sheets spreadsheet,
// one pair of tabs per owner.
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"tally/internal/core"
	ports "tally/internal/sheets"

	"golang.org/x/oauth2"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

type Config struct {
	SpreadsheetID   string
	CredentialsJSON string
	CredentialsFile string

	// OAuthTokenFile selects user credentials obtained with "tally sheets-auth"
	// instead of a service account.
	OAuthTokenFile  string
	OAuthClientJSON string
	OAuthClientFile string
}

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string

	// tabs caches sheet titles known to exist.
	mu   sync.Mutex
	tabs map[string]bool
}

var _ ports.Exporter = (*Client)(nil)

// New creates a Sheets client authenticated with service account credentials.
// Inline JSON wins over the file; with neither, GOOGLE_APPLICATION_CREDENTIALS is tried.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	svc, err := newSheetsService(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return &Client{
		svc:           svc,
		spreadsheetID: strings.TrimSpace(cfg.SpreadsheetID),
		tabs:          map[string]bool{},
	}, nil
}

func readCredentials(ctx context.Context, cfg Config) ([]byte, error) {
	inline := strings.TrimSpace(cfg.CredentialsJSON)
	file := strings.TrimSpace(cfg.CredentialsFile)
	if inline == "" && file == "" {
		file = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	switch {
	case inline != "":
		slog.InfoContext(ctx, "Using inline JSON credentials")
		return []byte(inline), nil
	case file != "":
		slog.InfoContext(ctx, "Reading credentials from file", "path", file)
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return b, nil
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}
}

func newSheetsService(ctx context.Context, cfg Config) (*gsheet.Service, error) {
	var auth goption.ClientOption
	if strings.TrimSpace(cfg.OAuthTokenFile) != "" {
		ts, err := oauthTokenSource(ctx, cfg)
		if err != nil {
			return nil, err
		}
		slog.InfoContext(ctx, "Using OAuth user credentials", "token_file", cfg.OAuthTokenFile)
		auth = goption.WithTokenSource(ts)
	} else {
		credentialsJSON, err := readCredentials(ctx, cfg)
		if err != nil {
			return nil, err
		}
		auth = goption.WithCredentialsJSON(credentialsJSON)
	}
	service, err := gsheet.NewService(ctx, auth, goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	slog.InfoContext(ctx, "Google Sheets service created successfully")
	return service, nil
}

// oauthTokenSource refreshes the stored user token as needed. Refreshes outlive ctx.
func oauthTokenSource(ctx context.Context, cfg Config) (oauth2.TokenSource, error) {
	clientJSON, err := ReadOAuthClient(cfg.OAuthClientJSON, cfg.OAuthClientFile)
	if err != nil {
		return nil, err
	}
	oc, err := OAuthConfig(clientJSON, "")
	if err != nil {
		return nil, err
	}
	tok, err := LoadToken(cfg.OAuthTokenFile)
	if err != nil {
		return nil, err
	}
	return oc.TokenSource(context.WithoutCancel(ctx), tok), nil
}

// Export rewrites the owner's expense and summary tabs, creating them if needed.
func (c *Client) Export(ctx context.Context, owner string, expenses []core.Expense, summary core.AnalyticsResult) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}
	if strings.TrimSpace(owner) == "" {
		return errors.New("export: empty owner")
	}

	expTab, sumTab := ports.ExpensesTab(owner), ports.SummaryTab(owner)
	if err := c.ensureTabs(ctx, expTab, sumTab); err != nil {
		return err
	}
	if err := c.replace(ctx, expTab, ports.ExpenseRows(expenses)); err != nil {
		return err
	}
	if err := c.replace(ctx, sumTab, ports.SummaryRows(summary)); err != nil {
		return err
	}

	slog.InfoContext(ctx, "Exported expenses to spreadsheet",
		"owner", owner,
		"count", len(expenses),
		"spreadsheet_id", c.spreadsheetID)
	return nil
}

func (c *Client) ensureTabs(ctx context.Context, names ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	missing := make([]string, 0, len(names))
	for _, n := range names {
		if !c.tabs[n] {
			missing = append(missing, n)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	ss, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read spreadsheet %s: %w", c.spreadsheetID, err)
	}
	for _, sh := range ss.Sheets {
		if sh.Properties != nil {
			c.tabs[sh.Properties.Title] = true
		}
	}

	var reqs []*gsheet.Request
	for _, n := range missing {
		if c.tabs[n] {
			continue
		}
		reqs = append(reqs, &gsheet.Request{
			AddSheet: &gsheet.AddSheetRequest{Properties: &gsheet.SheetProperties{Title: n}},
		})
	}
	if len(reqs) == 0 {
		return nil
	}

	_, err = c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, &gsheet.BatchUpdateSpreadsheetRequest{Requests: reqs}).
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("add sheets %v: %w", missing, err)
	}
	for _, n := range missing {
		c.tabs[n] = true
	}
	return nil
}

func (c *Client) replace(ctx context.Context, tab string, rows [][]any) error {
	all := a1(tab, "A:Z")
	if _, err := c.svc.Spreadsheets.Values.Clear(c.spreadsheetID, all, &gsheet.ClearValuesRequest{}).
		Context(ctx).Do(); err != nil {
		// The tab may have been removed behind our back.
		c.forget(tab)
		return fmt.Errorf("clear %s: %w", all, err)
	}

	start := a1(tab, "A1")
	vr := &gsheet.ValueRange{Values: rows}
	if _, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, start, vr).
		ValueInputOption("RAW").Context(ctx).Do(); err != nil {
		return fmt.Errorf("write %s: %w", start, err)
	}
	return nil
}

func (c *Client) forget(tab string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tabs, tab)
}

// a1 builds an A1 range on a tab whose title may contain spaces or quotes.
func a1(tab, cells string) string {
	return "'" + strings.ReplaceAll(tab, "'", "''") + "'!" + cells
}
