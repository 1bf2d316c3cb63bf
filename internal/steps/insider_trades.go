package steps

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/avelline/marketmill/internal/engine"
)

// insiderTradesStep flattens the Form 4 JSONL archives into one row per
// open-market purchase or sale by a company insider. Each filing carries a
// nested transaction table, unnested here; other transaction codes (grants,
// option exercises, gifts) are out of scope.
func insiderTradesStep(deps Deps) engine.Step {
	return engine.Step{
		ID:        "insider_trades_v2",
		Target:    "insider_trades",
		DependsOn: []string{"tickers"},
		Action: func(ctx context.Context, conn engine.Conn) error {
			return buildInsiderTrades(ctx, conn, deps)
		},
	}
}

func buildInsiderTrades(ctx context.Context, conn engine.Conn, deps Deps) error {
	log := deps.Log.WithFields(map[string]any{"step": "insider_trades_v2"})
	store := deps.Store

	jsonlGlob := filepath.Join(deps.Config.InsiderTradesDir(), "**", "*.jsonl.gz")
	staged := store.StagingPath("insider_trades.parquet")

	tradesSQL := fmt.Sprintf(`
COPY (
    SELECT
        upper(trim(issuer.tradingSymbol)) AS ticker,
        COALESCE(tx.transactionDate, periodOfReport) AS trade_date,
        tx.coding.code AS tx_code,
        CAST(tx.amounts.shares AS FLOAT) AS shares,
        CAST(tx.amounts.shares * tx.amounts.pricePerShare AS FLOAT) AS total_value,
        CASE
            WHEN tx.amounts.acquiredDisposedCode IN ('A', 'D')
                THEN tx.amounts.acquiredDisposedCode
            WHEN tx.coding.code = 'P' THEN 'A'
            ELSE 'D'
        END AS acquired_disposed,
        CAST(tx.postTransactionAmounts.sharesOwnedFollowingTransaction AS FLOAT) AS shares_after,
        CASE
            WHEN tx.ownershipNature.directOrIndirectOwnership IN ('D', 'I')
                THEN tx.ownershipNature.directOrIndirectOwnership
            ELSE 'D'
        END AS ownership_type,
        COALESCE(reportingOwner.relationship.isDirector, false) AS is_director,
        COALESCE(reportingOwner.relationship.isOfficer, false) AS is_officer,
        COALESCE(reportingOwner.relationship.isTenPercentOwner, false) AS is_ten_pct_owner,
        reportingOwner.name AS insider_name,
        reportingOwner.cik AS insider_cik,
        reportingOwner.relationship.officerTitle AS officer_title
    FROM read_json(
        %s,
        format='newline_delimited',
        ignore_errors=true
    )
    , LATERAL UNNEST(nonDerivativeTable.transactions) AS t(tx)
    WHERE tx.coding.code IN ('P', 'S')
      AND tx.amounts.shares IS NOT NULL
      AND upper(trim(issuer.tradingSymbol)) != ''
      AND upper(trim(issuer.tradingSymbol)) IN (SELECT ticker FROM read_parquet(%s))
      AND COALESCE(tx.transactionDate, periodOfReport) IS NOT NULL
      AND EXTRACT(YEAR FROM COALESCE(tx.transactionDate, periodOfReport)) BETWEEN 2000 AND 2026
    ORDER BY ticker, trade_date
) TO %s (%s)`,
		quoteLiteral(jsonlGlob), quoteLiteral(store.Path("tickers.parquet")),
		quoteLiteral(staged), parquetSettings)
	if err := conn.Exec(ctx, tradesSQL); err != nil {
		return err
	}

	if err := store.Publish("insider_trades.parquet.tmp", "insider_trades.parquet"); err != nil {
		return err
	}

	count, err := verifyParquet(ctx, deps.Connector, store.Path("insider_trades.parquet"), 1)
	if err != nil {
		return err
	}
	log.WithFields(map[string]any{"rows": count}).Info("wrote insider_trades.parquet")
	return nil
}
