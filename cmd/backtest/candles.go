package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"tradebot/internal/core"

	"github.com/shopspring/decimal"
)

// loadCandleDir reads <symbol>.csv for every traded symbol. Each row is
// "timestamp,open,high,low,close,volume" with a unix-seconds or RFC 3339
// timestamp; a header row is skipped when present.
func loadCandleDir(dir string, symbols []string) (map[string][]core.Candle, error) {
	if len(symbols) == 0 {
		return nil, fmt.Errorf("no enabled strategies define symbols")
	}

	candles := make(map[string][]core.Candle, len(symbols))
	for _, symbol := range symbols {
		path := filepath.Join(dir, symbol+".csv")
		bars, err := loadCandleFile(path, symbol)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		candles[symbol] = bars
	}
	return candles, nil
}

func loadCandleFile(path, symbol string) ([]core.Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = 6

	var bars []core.Candle
	for line := 1; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if line == 1 && record[0] == "timestamp" {
			continue
		}

		ts, err := parseTimestamp(record[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		fields := make([]decimal.Decimal, 5)
		for i, raw := range record[1:] {
			d, err := decimal.NewFromString(raw)
			if err != nil {
				return nil, fmt.Errorf("line %d, column %d: %w", line, i+2, err)
			}
			fields[i] = d
		}

		bars = append(bars, core.Candle{
			Symbol:    symbol,
			Open:      fields[0],
			High:      fields[1],
			Low:       fields[2],
			Close:     fields[3],
			Volume:    fields[4],
			Timestamp: ts,
		})
	}

	if len(bars) == 0 {
		return nil, fmt.Errorf("no candles")
	}
	return bars, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("unparseable timestamp %q", raw)
	}
	return ts.UTC(), nil
}
