// Package steps defines the build pipeline: six steps that turn the raw
// data_sources tree into query-ready parquet artifacts in the output
// directory. Registration order is the build order.
package steps

import (
	"context"
	"fmt"
	"strings"

	millerrors "github.com/avelline/marketmill/pkg/errors"

	"github.com/avelline/marketmill/internal/artifact"
	"github.com/avelline/marketmill/internal/config"
	"github.com/avelline/marketmill/internal/engine"
	"github.com/avelline/marketmill/internal/logger"
)

// parquetSettings is the COPY option list shared by every artifact write.
const parquetSettings = "FORMAT PARQUET, COMPRESSION ZSTD, ROW_GROUP_SIZE 122880"

// Deps carries the collaborators every step closes over.
type Deps struct {
	Config    *config.Config
	Store     *artifact.Store
	Connector engine.Connector
	Log       *logger.Logger
}

// RegisterAll registers the full pipeline.
func RegisterAll(reg *engine.Registry, deps Deps) error {
	for _, step := range []engine.Step{
		tickersStep(deps),
		pricesStep(deps),
		dailyAggsStep(deps),
		hundredDayAggsStep(deps),
		marketCapStep(deps),
		insiderTradesStep(deps),
	} {
		if err := reg.Register(step); err != nil {
			return err
		}
	}
	return nil
}

// quoteLiteral renders s as a single-quoted SQL string literal.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// verifyParquet counts the rows readable at path on a fresh connection and
// fails when the count is below minRows. Run after every publish so an empty
// or unreadable artifact surfaces as this step's failure, not a later one's.
func verifyParquet(ctx context.Context, connector engine.Connector, path string, minRows int64) (int64, error) {
	conn, err := connector.Connect(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	rows, err := conn.Count(ctx, fmt.Sprintf("SELECT COUNT(*) FROM read_parquet(%s)", quoteLiteral(path)))
	if err != nil {
		return 0, millerrors.NewVerificationError(path, 0, minRows, err)
	}
	if rows < minRows {
		return rows, millerrors.NewVerificationError(path, rows, minRows, nil)
	}
	return rows, nil
}
