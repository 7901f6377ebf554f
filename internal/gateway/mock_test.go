package gateway

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/visibility-grader/pkg/pagespeed"
	"github.com/sells-group/visibility-grader/pkg/places"
)

// --- Places Mock ---

type mockPlacesClient struct {
	mock.Mock
}

func (m *mockPlacesClient) SearchText(ctx context.Context, req places.TextSearchRequest) (*places.TextSearchResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*places.TextSearchResponse), args.Error(1)
}

func (m *mockPlacesClient) Details(ctx context.Context, placeID string) (*places.Place, error) {
	args := m.Called(ctx, placeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*places.Place), args.Error(1)
}

func (m *mockPlacesClient) SearchNearby(ctx context.Context, req places.NearbySearchRequest) (*places.NearbySearchResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*places.NearbySearchResponse), args.Error(1)
}

// --- Pagespeed Mock ---

type mockPagespeedClient struct {
	mock.Mock
}

func (m *mockPagespeedClient) Run(ctx context.Context, pageURL string) (*pagespeed.Report, error) {
	args := m.Called(ctx, pageURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pagespeed.Report), args.Error(1)
}
