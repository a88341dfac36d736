// Package importer feeds CSV lead exports through the ingestion pipeline.
package importer

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/lead-intake/internal/ingest"
	"github.com/sells-group/lead-intake/internal/model"
)

// Ingester runs one trusted signal through the pipeline.
type Ingester interface {
	IngestSignal(ctx context.Context, sig ingest.Signal) (*ingest.Result, error)
}

// Options tune an import run.
type Options struct {
	Concurrency   int     // rows in flight; default 4
	RatePerSecond float64 // 0 = unlimited
}

// Target names the tenant and source rows are recorded under.
type Target struct {
	TenantID   string
	SourceID   string
	SourceName string
}

// Summary counts row outcomes.
type Summary struct {
	Rows     int `json:"rows"`
	OK       int `json:"ok"`
	Rejected int `json:"rejected"`
	Failed   int `json:"failed"`
	Contacts int `json:"contacts_created"`
}

// Importer reads CSV rows and ingests them.
type Importer struct {
	ing  Ingester
	opts Options
}

// New creates an Importer.
func New(ing Ingester, opts Options) *Importer {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Importer{ing: ing, opts: opts}
}

// Import ingests every data row of r. The first row is the header; its
// column names become payload keys, so a "phone" column maps straight onto
// the phone alias. Rows are never deduplicated here. A row rejected by the
// pipeline is counted and skipped; an unknown tenant aborts the run.
func (im *Importer) Import(ctx context.Context, r io.Reader, target Target) (Summary, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return Summary{}, eris.New("importer: empty file")
	}
	if err != nil {
		return Summary{}, eris.Wrap(err, "importer: read header")
	}
	cols := normalizeHeader(header)

	var limiter *rate.Limiter
	if im.opts.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(im.opts.RatePerSecond), im.opts.Concurrency)
	}

	var (
		mu  sync.Mutex
		sum Summary
	)
	log := zap.L().With(zap.String("tenant_id", target.TenantID), zap.String("source_id", target.SourceID))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(im.opts.Concurrency)

	line := 1
	for {
		if gctx.Err() != nil {
			break
		}
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			log.Warn("importer: unreadable row", zap.Int("line", line), zap.Error(err))
			mu.Lock()
			sum.Rows++
			sum.Rejected++
			mu.Unlock()
			continue
		}
		body, ok := rowPayload(cols, record)
		if !ok {
			continue
		}
		if limiter != nil {
			if err := limiter.Wait(gctx); err != nil {
				break
			}
		}

		rowLine := line
		g.Go(func() error {
			res, err := im.ing.IngestSignal(gctx, ingest.Signal{
				TenantID:   target.TenantID,
				Source:     model.SourceImport,
				SourceID:   target.SourceID,
				SourceName: target.SourceName,
				Body:       body,
			})

			mu.Lock()
			defer mu.Unlock()
			sum.Rows++
			switch kind := ingest.KindOf(err); {
			case err == nil:
				sum.OK++
				if res.ContactCreated {
					sum.Contacts++
				}
			case kind == ingest.KindNotFound || kind == ingest.KindUnauthorized:
				sum.Failed++
				return eris.Wrapf(err, "importer: line %d", rowLine)
			case kind == ingest.KindInvalidIdentity:
				sum.Rejected++
				log.Info("importer: row rejected", zap.Int("line", rowLine), zap.Error(err))
			default:
				sum.Failed++
				log.Warn("importer: row failed", zap.Int("line", rowLine), zap.Error(err))
			}
			return nil
		})
	}

	err = g.Wait()
	if err == nil && ctx.Err() != nil {
		err = eris.Wrap(ctx.Err(), "importer: cancelled")
	}
	log.Info("importer: done",
		zap.Int("rows", sum.Rows),
		zap.Int("ok", sum.OK),
		zap.Int("rejected", sum.Rejected),
		zap.Int("failed", sum.Failed),
	)
	return sum, err
}

func normalizeHeader(header []string) []string {
	cols := make([]string, len(header))
	for i, h := range header {
		h = strings.TrimPrefix(h, "\ufeff")
		h = strings.ToLower(strings.TrimSpace(h))
		cols[i] = strings.ReplaceAll(h, " ", "_")
	}
	return cols
}

// rowPayload builds a flat JSON object from a row. Blank rows give false.
func rowPayload(cols, record []string) ([]byte, bool) {
	row := make(map[string]string, len(cols))
	for i, v := range record {
		if i >= len(cols) || cols[i] == "" {
			continue
		}
		if v = strings.TrimSpace(v); v != "" {
			row[cols[i]] = v
		}
	}
	if len(row) == 0 {
		return nil, false
	}
	body, err := json.Marshal(row)
	if err != nil {
		return nil, false
	}
	return body, true
}
