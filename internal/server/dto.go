package server

import (
	"time"

	"marketbot/internal/domain"
	"marketbot/internal/interaction"
	"marketbot/internal/scheduler"
)

// Request payloads

type SetManagersRequest struct {
	RoleIDs []string `json:"role_ids"`
}

type CreateListingRequest struct {
	RoomID       string             `json:"room_id"`
	ItemRef      string             `json:"item_ref,omitempty" maxLength:"32"`
	Kind         domain.ListingKind `json:"kind" enum:"auction,market,trade,giveaway"`
	SellerID     string             `json:"seller_id"`
	Name         string             `json:"name" maxLength:"100"`
	Description  string             `json:"description,omitempty"`
	ImageURL     string             `json:"image_url,omitempty"`
	PriceCents   int64              `json:"price_cents,omitempty"`
	MinIncrement int64              `json:"min_increment_cents,omitempty"`
	Quantity     int                `json:"quantity,omitempty"`
	StartsAt     *time.Time         `json:"starts_at,omitempty"`
	EndsAt       time.Time          `json:"ends_at"`
}

type DecodeActionRequest struct {
	CustomID string `json:"custom_id" maxLength:"200"`
}

type EncodeActionRequest struct {
	Verb     string   `json:"verb"`
	Segments []string `json:"segments"`
}

// Response payloads

type JobStatusResponse struct {
	Name           string         `json:"name"`
	State          string         `json:"state" enum:"idle,running,stopped"`
	Sweeping       bool           `json:"sweeping"`
	NextRun        string         `json:"next_run,omitempty" format:"date-time"`
	LastRun        string         `json:"last_run,omitempty" format:"date-time"`
	LastDurationMS int64          `json:"last_duration_ms"`
	LastOutcomes   map[string]int `json:"last_outcomes,omitempty"`
	Runs           int64          `json:"runs"`
	SkippedTicks   int64          `json:"skipped_ticks"`
}

type SweepResultResponse struct {
	Listing string `json:"listing"`
	Outcome string `json:"outcome" enum:"transitioned,skipped,failed"`
	Reason  string `json:"reason,omitempty"`
}

type SweepResponse struct {
	Job     string                `json:"job"`
	Counts  map[string]int        `json:"counts"`
	Results []SweepResultResponse `json:"results"`
}

type ListingDetail struct {
	Listing domain.Listing      `json:"listing"`
	Bids    []domain.Bid        `json:"bids"`
	Offers  []domain.TradeOffer `json:"offers"`
}

type DialogResponse struct {
	Title  string   `json:"title"`
	Fields []string `json:"fields"`
}

type DecodeActionResponse struct {
	Verb          string          `json:"verb"`
	Family        string          `json:"family"`
	Discriminator string          `json:"discriminator,omitempty"`
	Segments      []string        `json:"segments"`
	Dialog        *DialogResponse `json:"dialog,omitempty"`
}

type EncodeActionResponse struct {
	CustomID string `json:"custom_id"`
}

func jobStatusResponse(s scheduler.JobStatus) JobStatusResponse {
	resp := JobStatusResponse{
		Name:           s.Name,
		State:          s.State.String(),
		Sweeping:       s.Sweeping,
		NextRun:        formatOptionalTime(s.NextRun),
		LastRun:        formatOptionalTime(s.LastRun),
		LastDurationMS: s.LastDuration.Milliseconds(),
		Runs:           s.Runs,
		SkippedTicks:   s.SkippedTicks,
	}
	if len(s.LastOutcomes) > 0 {
		resp.LastOutcomes = make(map[string]int, len(s.LastOutcomes))
		for k, v := range s.LastOutcomes {
			resp.LastOutcomes[string(k)] = v
		}
	}
	return resp
}

func sweepResponse(job string, results []scheduler.Result) SweepResponse {
	resp := SweepResponse{Job: job, Counts: map[string]int{}, Results: make([]SweepResultResponse, 0, len(results))}
	for k, v := range scheduler.Tally(results) {
		resp.Counts[string(k)] = v
	}
	for _, r := range results {
		resp.Results = append(resp.Results, SweepResultResponse{
			Listing: r.Ref.String(),
			Outcome: string(r.Outcome),
			Reason:  r.Reason,
		})
	}
	return resp
}

func dialogResponse(s interaction.Schema) *DialogResponse {
	d := &DialogResponse{Title: s.Title, Fields: make([]string, 0, len(s.Fields))}
	for _, f := range s.Fields {
		d.Fields = append(d.Fields, f.Name)
	}
	return d
}

func formatOptionalTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return domain.FormatTime(t)
}
