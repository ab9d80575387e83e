//go:build gfz

package ftp

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skysweep/kindex-etl/internal/config"
	"github.com/skysweep/kindex-etl/internal/domain"
)

// These tests hit the real GFZ mirror and require outbound FTP access.
// Run with: go test -tags=gfz ./internal/adapter/ftp/ -v -count=1

func TestSmoke_FetchRecent(t *testing.T) {
	cfg := &config.Config{
		FTPAddr:    "ftp.gfz-potsdam.de:21",
		FTPTimeout: 30 * time.Second,
	}
	c := NewClient(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))

	station := config.Station{
		Code:                "ent",
		K9Limit:             500,
		LookbackDays:        2,
		PollIntervalMinutes: 10,
		FTPPath:             "/pub/home/obs/data/iaga2002/ENT0/",
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	files, err := c.FetchRecent(ctx, station)
	require.NoError(t, err)
	require.NotEmpty(t, files)

	parsed, err := domain.ParseIAGA2002(files[0].Content, station.Code)
	require.NoError(t, err)
	assert.NotEmpty(t, parsed.Samples)
	assert.Equal(t, "ENT", parsed.Station)
}
