package scan

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/visibility-grader/internal/gateway"
	"github.com/sells-group/visibility-grader/internal/model"
	"github.com/sells-group/visibility-grader/pkg/pagespeed"
)

// --- Gateway Mock ---

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) ResolvePlace(ctx context.Context, input model.BusinessInput) (*gateway.ResolvedPlace, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.ResolvedPlace), args.Error(1)
}

func (m *mockGateway) FetchDetails(ctx context.Context, placeID string) gateway.Outcome[*gateway.PlaceDetails] {
	args := m.Called(ctx, placeID)
	return args.Get(0).(gateway.Outcome[*gateway.PlaceDetails])
}

func (m *mockGateway) FetchNearbyCompetitors(ctx context.Context, lat, lng *float64, excludePlaceID string) gateway.Outcome[[]gateway.Competitor] {
	args := m.Called(ctx, lat, lng, excludePlaceID)
	return args.Get(0).(gateway.Outcome[[]gateway.Competitor])
}

func (m *mockGateway) FetchPerformance(ctx context.Context, websiteURL string) gateway.Outcome[*pagespeed.Report] {
	args := m.Called(ctx, websiteURL)
	return args.Get(0).(gateway.Outcome[*pagespeed.Report])
}
