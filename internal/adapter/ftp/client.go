package ftp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	goftp "github.com/jlaffaye/ftp"
	"github.com/klauspost/compress/gzip"

	"github.com/skysweep/kindex-etl/internal/config"
	"github.com/skysweep/kindex-etl/internal/domain"
)

// Anonymous credentials accepted by the INTERMAGNET mirrors.
const (
	anonymousUser = "anonymous"
	anonymousPass = "anonymous"
)

// Daily provisional minute files end in pmin.min; some mirrors also
// publish gzipped copies.
const minuteSuffix = "pmin.min"

// Client retrieves IAGA-2002 minute files from an observatory FTP
// mirror. It implements pipeline.FileSource.
type Client struct {
	addr    string
	timeout time.Duration
	logger  *slog.Logger
}

// NewClient creates an FTP file source for the configured mirror.
func NewClient(cfg *config.Config, logger *slog.Logger) *Client {
	return &Client{
		addr:    cfg.FTPAddr,
		timeout: cfg.FTPTimeout,
		logger:  logger,
	}
}

// FetchRecent lists the station's directory on the mirror and downloads
// the newest daily files covering its lookback window, oldest first.
// Every cycle dials a fresh control connection; public mirrors drop
// idle sessions long before a poll interval elapses.
func (c *Client) FetchRecent(ctx context.Context, station config.Station) ([]domain.RawFile, error) {
	conn, err := goftp.Dial(c.addr,
		goftp.DialWithContext(ctx),
		goftp.DialWithTimeout(c.timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.addr, err)
	}
	defer func() {
		if err := conn.Quit(); err != nil {
			c.logger.Warn("ftp quit failed", "error", err)
		}
	}()

	if err := conn.Login(anonymousUser, anonymousPass); err != nil {
		return nil, fmt.Errorf("anonymous login: %w", err)
	}

	entries, err := conn.List(station.FTPPath)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", station.FTPPath, err)
	}

	names := selectRecent(entries, station.Code, station.LookbackDays)
	c.logger.Debug("selected daily files",
		"station", station.Code,
		"listed", len(entries),
		"selected", len(names),
	)

	files := make([]domain.RawFile, 0, len(names))
	for _, name := range names {
		content, err := c.download(conn, station.FTPPath, name)
		if err != nil {
			return nil, fmt.Errorf("retrieve %s: %w", name, err)
		}
		files = append(files, domain.RawFile{Name: name, Content: content})
	}
	return files, nil
}

func (c *Client) download(conn *goftp.ServerConn, dir, name string) ([]byte, error) {
	resp, err := conn.Retr(path.Join(dir, name))
	if err != nil {
		return nil, err
	}
	defer resp.Close()

	var reader io.Reader = resp
	if strings.HasSuffix(strings.ToLower(name), ".gz") {
		gz, err := gzip.NewReader(resp)
		if err != nil {
			return nil, fmt.Errorf("gunzip: %w", err)
		}
		defer gz.Close()
		reader = gz
	}
	return io.ReadAll(reader)
}

// fileDate extracts the observation date embedded in a daily minute
// file name such as "ent20240501pmin.min" or "ent20240501pmin.min.gz".
// The second return is false for names that are not daily minute files
// of the given station.
func fileDate(name, code string) (time.Time, bool) {
	base := strings.ToLower(name)
	code = strings.ToLower(code)

	if !strings.HasPrefix(base, code) {
		return time.Time{}, false
	}
	if !strings.HasSuffix(base, minuteSuffix) && !strings.HasSuffix(base, minuteSuffix+".gz") {
		return time.Time{}, false
	}

	rest := base[len(code):]
	if len(rest) < 8 {
		return time.Time{}, false
	}
	date, err := time.Parse("20060102", rest[:8])
	if err != nil {
		return time.Time{}, false
	}
	return date, true
}

// selectRecent picks the newest n daily files for a station from a
// directory listing and returns their names in chronological order.
func selectRecent(entries []*goftp.Entry, code string, n int) []string {
	type dated struct {
		name string
		date time.Time
	}

	var candidates []dated
	for _, e := range entries {
		if e.Type != goftp.EntryTypeFile {
			continue
		}
		if date, ok := fileDate(e.Name, code); ok {
			candidates = append(candidates, dated{name: e.Name, date: date})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].date.After(candidates[j].date)
	})
	if len(candidates) > n {
		candidates = candidates[:n]
	}

	names := make([]string, len(candidates))
	for i, cand := range candidates {
		names[len(candidates)-1-i] = cand.name
	}
	return names
}
