package receiver

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/forgewatch/forgewatch/pkg/types"
	"github.com/forgewatch/forgewatch/pkg/wire"
	"github.com/forgewatch/forgewatch/server/internal/engine"
)

// Ingester applies reading batches. *engine.Engine implements it.
type Ingester interface {
	Ingest(types.Batch) engine.Result
}

// Receiver implements wire.IngestServer.
type Receiver struct {
	ingester Ingester
}

// New creates a Receiver that applies accepted batches to ing.
func New(ing Ingester) *Receiver {
	return &Receiver{ingester: ing}
}

// Push is the unary RPC handler called by agents.
func (r *Receiver) Push(ctx context.Context, req *wire.PushRequest) (*wire.PushResponse, error) {
	if len(req.Readings) == 0 {
		return nil, status.Error(codes.InvalidArgument, "readings is required")
	}

	res := r.ingester.Ingest(req.Readings)

	resp := &wire.PushResponse{
		Applied:    res.Applied,
		Duplicates: res.Duplicates,
	}
	if len(res.Rejected) > 0 {
		resp.Rejected = make(map[string][]wire.FieldError, len(res.Rejected))
		var msgs []string
		for id, errs := range res.Rejected {
			fe := make([]wire.FieldError, len(errs))
			for i, e := range errs {
				fe[i] = wire.FieldError{Field: e.Field, Message: e.Message}
			}
			resp.Rejected[id] = fe
			msgs = append(msgs, errs.Error())
		}
		sort.Strings(msgs)

		if len(res.Applied) == 0 && len(res.Duplicates) == 0 {
			return nil, status.Error(codes.InvalidArgument, "invalid readings: "+strings.Join(msgs, "; "))
		}
	}

	slog.Debug("receiver: batch applied",
		"agent", req.AgentID,
		"applied", len(resp.Applied),
		"duplicates", len(resp.Duplicates),
		"rejected", len(resp.Rejected),
	)
	return resp, nil
}
