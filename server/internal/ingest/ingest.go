package ingest

import (
	"log/slog"
	"time"

	"github.com/forgewatch/forgewatch/pkg/types"
	"github.com/forgewatch/forgewatch/server/internal/engine"
)

// now stamps readings that carry no timestamp.
var now = time.Now

// Ingester applies reading batches. *engine.Engine implements it.
type Ingester interface {
	Ingest(types.Batch) engine.Result
}

// apply hands batch to ing and logs what was rejected.
func apply(ing Ingester, source string, batch types.Batch) engine.Result {
	res := ing.Ingest(batch)
	for id, errs := range res.Rejected {
		slog.Warn("ingest: reading rejected", "source", source, "machine", id, "err", errs.Error())
	}
	slog.Debug("ingest: batch applied",
		"source", source,
		"applied", len(res.Applied),
		"duplicates", len(res.Duplicates),
	)
	return res
}
