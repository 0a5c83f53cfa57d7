package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"marketbot/internal/action"
	"marketbot/internal/domain"
	"marketbot/internal/engine"
	"marketbot/internal/events"
	"marketbot/internal/interaction"
	"marketbot/internal/repo"
)

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func registerJobs(api huma.API, jobs Jobs) {
	huma.Register(api, huma.Operation{
		OperationID: "list-jobs",
		Method:      http.MethodGet,
		Path:        "/jobs",
		Summary:     "Lifecycle job status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []JobStatusResponse `json:"body"`
	}, error) {
		statuses := jobs.Status()
		out := make([]JobStatusResponse, 0, len(statuses))
		for _, s := range statuses {
			out = append(out, jobStatusResponse(s))
		}
		return &struct {
			Body []JobStatusResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "run-job",
		Method:      http.MethodPost,
		Path:        "/jobs/{name}/sweep",
		Summary:     "Run one sweep of a lifecycle job now",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Name string `path:"name"`
	}) (*struct {
		Body SweepResponse `json:"body"`
	}, error) {
		if _, err := requireOperator(ctx); err != nil {
			return nil, err
		}
		results, err := jobs.RunNow(input.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SweepResponse `json:"body"`
		}{Body: sweepResponse(input.Name, results)}, nil
	})
}

func registerTenants(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tenants",
		Method:      http.MethodGet,
		Path:        "/tenants",
		Summary:     "List tenants",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Tenant `json:"body"`
	}, error) {
		items, err := e.Repo.ListTenants(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Tenant{}
		}
		return &struct {
			Body []domain.Tenant `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-tenant",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}",
		Summary:     "Get a tenant",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
	}) (*struct {
		Body domain.Tenant `json:"body"`
	}, error) {
		t, err := e.Repo.GetTenant(ctx, input.TenantID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Tenant `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-tenant-managers",
		Method:      http.MethodPut,
		Path:        "/tenants/{tenant_id}/managers",
		Summary:     "Replace the tenant's manager roles",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
		Body     SetManagersRequest
	}) (*struct {
		Body domain.Tenant `json:"body"`
	}, error) {
		actorID, herr := requireOperator(ctx)
		if herr != nil {
			return nil, herr
		}
		t, err := e.SetTenantManagers(ctx, input.TenantID, input.Body.RoleIDs, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Tenant `json:"body"`
		}{Body: t}, nil
	})
}

func registerListings(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-listings",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/listings",
		Summary:     "List listings",
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
		RoomID   string `query:"room_id"`
		Status   string `query:"status" enum:"scheduled,active,pending_closure,closed,withdrawn"`
		Kind     string `query:"kind" enum:"auction,market,trade,giveaway"`
		Limit    int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Listing `json:"body"`
	}, error) {
		items, err := e.Repo.ListListings(ctx, repo.ListingFilters{
			TenantID: input.TenantID,
			RoomID:   input.RoomID,
			Status:   domain.ListingStatus(input.Status),
			Kind:     domain.ListingKind(input.Kind),
			Limit:    normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Listing{}
		}
		return &struct {
			Body []domain.Listing `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "create-listing",
		Method:      http.MethodPost,
		Path:        "/tenants/{tenant_id}/listings",
		Summary:     "Post a listing",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
		Body     CreateListingRequest
	}) (*struct {
		Body domain.Listing `json:"body"`
	}, error) {
		actorID, herr := requireOperator(ctx)
		if herr != nil {
			return nil, herr
		}
		var starts time.Time
		if input.Body.StartsAt != nil {
			starts = *input.Body.StartsAt
		}
		l, err := e.CreateListing(ctx, engine.ListingCreateOptions{
			TenantID:     input.TenantID,
			RoomID:       input.Body.RoomID,
			ItemRef:      input.Body.ItemRef,
			Kind:         input.Body.Kind,
			SellerID:     input.Body.SellerID,
			Name:         input.Body.Name,
			Description:  input.Body.Description,
			ImageURL:     input.Body.ImageURL,
			PriceCents:   input.Body.PriceCents,
			MinIncrement: input.Body.MinIncrement,
			Quantity:     input.Body.Quantity,
			StartsAt:     starts,
			EndsAt:       input.Body.EndsAt,
			ActorID:      actorID,
		})
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		return &struct {
			Body domain.Listing `json:"body"`
		}{Body: l}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-listing",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/rooms/{room_id}/listings/{item_ref}",
		Summary:     "Show a listing with its bids and offers",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
		RoomID   string `path:"room_id"`
		ItemRef  string `path:"item_ref"`
	}) (*struct {
		Body ListingDetail `json:"body"`
	}, error) {
		ref := domain.ListingReference{TenantID: input.TenantID, RoomID: input.RoomID, ItemRef: input.ItemRef}
		l, err := e.GetListing(ctx, ref)
		if err != nil {
			return nil, handleError(err)
		}
		detail := ListingDetail{Listing: l, Bids: []domain.Bid{}, Offers: []domain.TradeOffer{}}
		switch l.Kind {
		case domain.KindAuction:
			bids, err := e.Repo.ListBids(ctx, ref)
			if err != nil {
				return nil, handleError(err)
			}
			detail.Bids = append(detail.Bids, bids...)
		case domain.KindTrade:
			offers, err := e.Repo.ListOffers(ctx, ref)
			if err != nil {
				return nil, handleError(err)
			}
			detail.Offers = append(detail.Offers, offers...)
		}
		return &struct {
			Body ListingDetail `json:"body"`
		}{Body: detail}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/events",
		Summary:     "List recent events",
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
		Type     string `query:"type"`
		RoomID   string `query:"room_id"`
		ItemRef  string `query:"item_ref"`
		Limit    int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		var entityID string
		if input.RoomID != "" && input.ItemRef != "" {
			entityID = events.EntityID(domain.ListingReference{RoomID: input.RoomID, ItemRef: input.ItemRef})
		}
		items, err := e.Repo.LatestEvents(ctx, normalizeLimit(input.Limit), input.TenantID, input.Type, entityID)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Event{}
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: items}, nil
	})
}

func registerActions(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "decode-action",
		Method:      http.MethodPost,
		Path:        "/actions/decode",
		Summary:     "Decode a component identifier",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body DecodeActionRequest
	}) (*struct {
		Body DecodeActionResponse `json:"body"`
	}, error) {
		id, err := action.Decode(input.Body.CustomID)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "malformed_identifier", err.Error(), nil)
		}
		resp := DecodeActionResponse{
			Verb:          string(id.Verb),
			Family:        string(id.Family()),
			Discriminator: id.Discriminator(),
			Segments:      append([]string{}, id.Segments...),
		}
		if s, ok := interaction.SchemaFor(id); ok {
			resp.Dialog = dialogResponse(s)
		}
		return &struct {
			Body DecodeActionResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "encode-action",
		Method:      http.MethodPost,
		Path:        "/actions/encode",
		Summary:     "Encode a component identifier",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body EncodeActionRequest
	}) (*struct {
		Body EncodeActionResponse `json:"body"`
	}, error) {
		raw, err := action.Encode(action.Verb(input.Body.Verb), input.Body.Segments...)
		if err != nil {
			var ee *action.EncodingError
			code := "bad_request"
			if errors.As(err, &ee) {
				code = "invalid_identifier"
			}
			return nil, newAPIError(http.StatusBadRequest, code, err.Error(), nil)
		}
		return &struct {
			Body EncodeActionResponse `json:"body"`
		}{Body: EncodeActionResponse{CustomID: raw}}, nil
	})
}
