package server

import (
	"github.com/google/wire"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ProviderSet 暴露 HTTP Server 及其指标。
var ProviderSet = wire.NewSet(
	NewTelemetry,
	NewHTTPServer,
	wire.Bind(new(Pinger), new(*pgxpool.Pool)),
)
