package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

// registerPoolRoutes sets up the pool inspection and control endpoints.
func (s *Server) registerPoolRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-pool",
		Method:      http.MethodGet,
		Path:        "/api/pool",
		Summary:     "Pool State",
		Description: "Get the current state of every worker slot",
		Tags:        []string{"pool"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(ctx context.Context, input *struct{}) (*PoolResponse, error) {
		return &PoolResponse{
			Body: PoolData{
				App:      s.appConfig.Name,
				Stopping: s.manager.Stopping(),
				Slots:    s.manager.Snapshot(),
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "drain-pool",
		Method:      http.MethodPost,
		Path:        "/api/pool/drain",
		Summary:     "Drain Pool",
		Description: "Signal every worker to finish in-flight work and exit. New workers start on demand.",
		Tags:        []string{"pool"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(ctx context.Context, input *struct{}) (*ActionResponse, error) {
		s.logger.Info("Pool drain requested")
		s.manager.SendShutdownSignal()
		return &ActionResponse{Body: ActionData{Status: "draining"}}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "recycle-pool",
		Method:      http.MethodPost,
		Path:        "/api/pool/recycle",
		Summary:     "Recycle Pool",
		Description: "Stop every worker immediately. Replacements start on demand.",
		Tags:        []string{"pool"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(ctx context.Context, input *struct{}) (*ActionResponse, error) {
		s.logger.Info("Pool recycle requested")
		s.manager.ShutdownAllProcesses()
		return &ActionResponse{Body: ActionData{Status: "recycled"}}, nil
	})
}
