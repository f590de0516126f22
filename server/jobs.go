// Copyright (c) 2025 BVK Chaitanya

package server

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/bvk/stopbot/api"
	"github.com/bvk/stopbot/exchange"
	"github.com/bvk/stopbot/gobs"
	"github.com/bvk/stopbot/limit"
	"github.com/bvk/stopbot/trailing"
	"github.com/google/uuid"
)

// parseSpec resolves an exchange name and a pair name like "BTC-USD" into a
// ticker spec.
func (s *Server) parseSpec(name, product string) (gobs.TickerSpec, error) {
	var spec gobs.TickerSpec
	if _, err := s.exchanges.Lookup(name); err != nil {
		return spec, fmt.Errorf("unknown exchange %q: %w", name, err)
	}
	base, counter, ok := strings.Cut(product, "-")
	if !ok || len(base) == 0 || len(counter) == 0 {
		return spec, fmt.Errorf("product must be of the form BASE-COUNTER: %w", os.ErrInvalid)
	}
	spec = gobs.TickerSpec{
		Exchange: strings.ToLower(name),
		Base:     strings.ToUpper(base),
		Counter:  strings.ToUpper(counter),
	}
	return spec, nil
}

func (s *Server) doTrailingAdd(ctx context.Context, req *api.TrailingAddRequest) (*api.TrailingAddResponse, error) {
	spec, err := s.parseSpec(req.Exchange, req.Product)
	if err != nil {
		return nil, err
	}

	state := &gobs.TrailingStopState{
		ProductSpec:   spec,
		Direction:     strings.ToUpper(req.Side),
		Size:          req.Size,
		LimitPrice:    req.LimitPrice,
		StartPrice:    req.StartPrice,
		StopPrice:     req.StopPrice,
		LastSyncPrice: req.StartPrice,
	}

	uid := uuid.New().String()
	def, err := trailing.NewDefinition(uid, state)
	if err != nil {
		return nil, err
	}
	if _, err := s.runner.Submit(ctx, def); err != nil {
		return nil, fmt.Errorf("could not submit trailing stop job: %w", err)
	}
	return &api.TrailingAddResponse{UID: uid}, nil
}

func (s *Server) doLimitAdd(ctx context.Context, req *api.LimitAddRequest) (*api.LimitAddResponse, error) {
	spec, err := s.parseSpec(req.Exchange, req.Product)
	if err != nil {
		return nil, err
	}

	uid := uuid.New().String()
	state := &gobs.LimitOrderState{
		ProductSpec:   spec,
		Direction:     strings.ToUpper(req.Side),
		Size:          req.Size,
		LimitPrice:    req.Price,
		ClientOrderID: uid,
	}
	def, err := limit.NewDefinition(uid, state)
	if err != nil {
		return nil, err
	}
	if _, err := s.runner.Submit(ctx, def); err != nil {
		return nil, fmt.Errorf("could not submit limit order job: %w", err)
	}
	return &api.LimitAddResponse{UID: uid}, nil
}

func (s *Server) doJobList(ctx context.Context, req *api.JobListRequest) (*api.JobListResponse, error) {
	resp := new(api.JobListResponse)
	err := s.runner.List(ctx, func(jd *gobs.JobData) error {
		resp.Jobs = append(resp.Jobs, &api.JobListResponseItem{
			UID:      jd.ID,
			Typename: jd.Typename,
			Status:   jd.Status,
			Message:  jd.Message,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("could not list jobs: %w", err)
	}
	return resp, nil
}

func (s *Server) doJobGet(ctx context.Context, req *api.JobGetRequest) (*api.JobGetResponse, error) {
	jd, err := s.runner.Get(ctx, req.UID)
	if err != nil {
		return nil, fmt.Errorf("could not get job %q: %w", req.UID, err)
	}
	return &api.JobGetResponse{
		UID:      jd.ID,
		Typename: jd.Typename,
		Status:   jd.Status,
		Message:  jd.Message,
		Live:     s.runner.IsLive(req.UID),
	}, nil
}

func (s *Server) doJobCancel(ctx context.Context, req *api.JobCancelRequest) (*api.JobCancelResponse, error) {
	status, err := s.runner.Cancel(ctx, req.UID)
	if err != nil {
		return nil, fmt.Errorf("could not cancel job %q: %w", req.UID, err)
	}
	return &api.JobCancelResponse{FinalStatus: string(status)}, nil
}

func (s *Server) doJobResume(ctx context.Context, req *api.JobResumeRequest) (*api.JobResumeResponse, error) {
	if err := s.runner.Start(ctx, req.UID); err != nil {
		return nil, fmt.Errorf("could not resume job %q: %w", req.UID, err)
	}
	jd, err := s.runner.Get(ctx, req.UID)
	if err != nil {
		return nil, fmt.Errorf("could not get job %q: %w", req.UID, err)
	}
	return &api.JobResumeResponse{Status: jd.Status}, nil
}

func (s *Server) doFeedList(ctx context.Context, req *api.FeedListRequest) (*api.FeedListResponse, error) {
	resp := new(api.FeedListResponse)
	for _, info := range s.mux.Feeds() {
		resp.Feeds = append(resp.Feeds, &api.FeedListResponseItem{
			Exchange: info.Exchange,
			Kind:     string(info.Kind),
			Pairs:    info.Pairs,
			Polled:   info.Polled,
		})
	}
	return resp, nil
}

func (s *Server) doGetProduct(ctx context.Context, req *api.ExchangeGetProductRequest) (*api.ExchangeGetProductResponse, error) {
	spec, err := s.parseSpec(req.Exchange, req.Product)
	if err != nil {
		return nil, err
	}
	ex, err := s.exchanges.Lookup(spec.Exchange)
	if err != nil {
		return nil, err
	}
	product, err := ex.GetProduct(ctx, exchange.TickerSpec(spec))
	if err != nil {
		return nil, fmt.Errorf("could not fetch product %s: %w", req.Product, err)
	}
	return &api.ExchangeGetProductResponse{
		Exchange:       spec.Exchange,
		Product:        req.Product,
		PriceScale:     product.PriceScale,
		BaseMinSize:    product.BaseMinSize,
		QuoteIncrement: product.QuoteIncrement,
	}, nil
}
