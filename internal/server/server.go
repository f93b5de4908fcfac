// gRPC service exposing the time machine to out-of-process wiki hosts
package server

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/nainya/timemachine/pkg/hooks"
	"github.com/nainya/timemachine/pkg/listing"
	"github.com/nainya/timemachine/pkg/page"
	"github.com/nainya/timemachine/pkg/target"
	"github.com/nainya/timemachine/pkg/view"
)

// Title filters accepted by FilterTitles
const (
	FilterSuggest   = "suggest"
	FilterHitTitles = "hit_titles"
)

// Server implements TimeMachineServer on top of an App.
//
// Requests name a page with "namespace" (number), "title" (string) and an
// optional "page_id" (number). Target days are "date" strings in
// YYYY-MM-DD form.
type Server struct {
	app *App
	now func() time.Time
}

var _ TimeMachineServer = (*Server)(nil)

// NewServer creates the gRPC service for app
func NewServer(app *App) *Server {
	return &Server{app: app, now: time.Now}
}

// NewGRPCServer builds a grpc.Server carrying the TimeMachine service, the
// standard health service and reflection
func NewGRPCServer(srv *Server, tp trace.TracerProvider) (*grpc.Server, *health.Server) {
	gs := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler(otelgrpc.WithTracerProvider(tp))),
		grpc.UnaryInterceptor(GrpcMetricsInterceptor(srv.app.Metrics, srv.app.Log)),
	)
	RegisterTimeMachineServer(gs, srv)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(gs, hs)

	reflection.Register(gs)
	return gs, hs
}

// ========== Resolver Operations ==========

// ResolveRevision returns {"found", "revision_id"}: the revision of the page
// that was current at the start of "date"
func (s *Server) ResolveRevision(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, at, err := identityAndDate(req)
	if err != nil {
		return nil, err
	}
	rev, ok, err := s.app.Resolver.RevisionAt(ctx, id, at)
	if err != nil {
		return nil, storeError("resolve revision", err)
	}
	return reply(map[string]any{"found": ok, "revision_id": rev})
}

// ResolveMoveSource returns {"found", "page_id"}: the page that held the
// title at "date" and has since been moved away
func (s *Server) ResolveMoveSource(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, at, err := identityAndDate(req)
	if err != nil {
		return nil, err
	}
	pageID, ok, err := s.app.Resolver.MoveSourceAfter(ctx, id, at)
	if err != nil {
		return nil, storeError("resolve move source", err)
	}
	return reply(map[string]any{"found": ok, "page_id": pageID})
}

// WasMovedHere returns {"moved"}: whether a page was moved onto the title
// after "date"
func (s *Server) WasMovedHere(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, at, err := identityAndDate(req)
	if err != nil {
		return nil, err
	}
	moved, err := s.app.Resolver.WasMovedHereAfter(ctx, id, at)
	if err != nil {
		return nil, storeError("was moved here", err)
	}
	return reply(map[string]any{"moved": moved})
}

// ResolveIdentity returns {"found", "namespace", "title", "page_id"}: the
// title the page had at "date"
func (s *Server) ResolveIdentity(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, at, err := identityAndDate(req)
	if err != nil {
		return nil, err
	}
	old, ok, err := s.app.Resolver.IdentityAt(ctx, id, at)
	if err != nil {
		return nil, storeError("resolve identity", err)
	}
	out := identityFields(old)
	out["found"] = ok
	return reply(out)
}

// ========== View Operations ==========

// DecideView runs page view interception. "date" is optional; an empty or
// future date means no time travel. "temporary" marks a one-shot URL
// parameter rather than the persisted preference, "old_id" an explicitly
// requested revision.
func (s *Server) DecideView(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := identityFrom(req, "")
	if err != nil {
		return nil, err
	}
	fields := req.GetFields()

	if raw := strings.TrimSpace(fields["date"].GetStringValue()); raw != "" {
		day, ok := target.ParseDate(raw)
		if !ok {
			return nil, status.Errorf(codes.InvalidArgument, "date %q is not YYYY-MM-DD", raw)
		}
		if day.Before(s.now()) {
			ctx = target.WithTarget(ctx, target.New(day, fields["temporary"].GetBoolValue()))
		}
	}

	ev := &hooks.ArticleFromTitle{Request: view.Request{
		Identity: id,
		OldID:    int64(fields["old_id"].GetNumberValue()),
	}}
	if err := s.app.Bus.Dispatch(ctx, ev); err != nil {
		return nil, storeError("decide view", err)
	}
	d := ev.Decision
	editAllowed, editReason := view.CanPerform(ctx, "edit")

	out := map[string]any{
		"state":           d.State.String(),
		"revision_id":     d.RevisionID,
		"identity":        identityFields(d.Identity),
		"original":        identityFields(d.Original),
		"served_by_move":  d.ServedByMove,
		"ignore_redirect": d.IgnoreRedirect,
		"travelling":      d.Travelling,
		"edit_allowed":    editAllowed,
		"edit_reason":     editReason,
		"banner":          nil,
		"placeholder":     nil,
	}
	if d.Travelling {
		out["date"] = d.Target.String()
	}
	if ev.Banner != nil {
		out["banner"] = map[string]any{
			"date":      ev.Banner.Date,
			"link":      ev.Banner.Link,
			"temporary": ev.Banner.Temporary,
			"text":      ev.Banner.Text,
		}
	}
	if ev.Placeholder != nil {
		out["placeholder"] = map[string]any{
			"status": ev.Placeholder.Status,
			"notice": ev.Placeholder.Notice,
		}
	}
	return reply(out)
}

// ========== Rename Operations ==========

// RecordRename appends a completed page move. Fields: "page_id",
// "old_namespace", "old_title", "new_namespace", "new_title" and an
// RFC 3339 "timestamp" that defaults to now.
func (s *Server) RecordRename(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()

	oldID, err := identityFrom(req, "old_")
	if err != nil {
		return nil, err
	}
	newID, err := identityFrom(req, "new_")
	if err != nil {
		return nil, err
	}

	ts := s.now().UTC().Truncate(time.Second)
	if raw := fields["timestamp"].GetStringValue(); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "timestamp %q is not RFC 3339", raw)
		}
		ts = parsed.UTC()
	}

	ev := &hooks.PageMoveComplete{
		PageID:    int64(fields["page_id"].GetNumberValue()),
		Old:       oldID,
		New:       newID,
		Timestamp: ts,
	}
	check := page.RenameEvent{PageID: ev.PageID, Old: ev.Old, New: ev.New, Timestamp: ev.Timestamp}
	if err := check.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	if err := s.app.Bus.Dispatch(ctx, ev); err != nil {
		return nil, storeError("record rename", err)
	}
	return reply(map[string]any{"recorded": true, "timestamp": ts.Format(time.RFC3339)})
}

// ========== Listing Operations ==========

// FilterTitles filters "titles" (a list of page objects) for "date".
// "query" is one of suggest, hit_titles, random, ancient or lonely. The
// reply carries the surviving or rewritten "titles".
func (s *Server) FilterTitles(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	at, err := dateFrom(req)
	if err != nil {
		return nil, err
	}
	ctx = target.WithTarget(ctx, target.New(at, true))

	var titles []page.Identity
	for i, v := range fields["titles"].GetListValue().GetValues() {
		id, err := identityFrom(v.GetStructValue(), "")
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "titles[%d]: %v", i, status.Convert(err).Message())
		}
		titles = append(titles, id)
	}

	query := fields["query"].GetStringValue()
	switch query {
	case FilterSuggest:
		ev := &hooks.SearchSuggest{Titles: titles}
		if err := s.app.Bus.Dispatch(ctx, ev); err != nil {
			return nil, storeError("filter titles", err)
		}
		titles = ev.Titles
	case FilterHitTitles:
		for i, id := range titles {
			ev := &hooks.SearchHitTitle{Title: id}
			if err := s.app.Bus.Dispatch(ctx, ev); err != nil {
				return nil, storeError("filter titles", err)
			}
			titles[i] = ev.Title
		}
	case string(listing.QueryRandom), string(listing.QueryAncient), string(listing.QueryLonely):
		ev := &hooks.PageQuery{Query: listing.PageQuery(query), Candidates: titles}
		if err := s.app.Bus.Dispatch(ctx, ev); err != nil {
			return nil, storeError("filter titles", err)
		}
		titles = ev.Candidates
	default:
		return nil, status.Errorf(codes.InvalidArgument, "unknown query %q", query)
	}

	list := make([]any, len(titles))
	for i, id := range titles {
		list[i] = identityFields(id)
	}
	return reply(map[string]any{"titles": list})
}

// ========== Helpers ==========

func identityFrom(req *structpb.Struct, prefix string) (page.Identity, error) {
	fields := req.GetFields()
	title := fields[prefix+"title"].GetStringValue()
	if strings.TrimSpace(title) == "" {
		return page.Identity{}, status.Errorf(codes.InvalidArgument, "%stitle is required", prefix)
	}
	id := page.NewIdentity(int(fields[prefix+"namespace"].GetNumberValue()), title)
	if prefix == "" {
		if pageID := int64(fields["page_id"].GetNumberValue()); pageID > 0 {
			id = id.WithPageID(pageID)
		}
	}
	return id, nil
}

func dateFrom(req *structpb.Struct) (time.Time, error) {
	raw := strings.TrimSpace(req.GetFields()["date"].GetStringValue())
	if raw == "" {
		return time.Time{}, status.Error(codes.InvalidArgument, "date is required")
	}
	day, ok := target.ParseDate(raw)
	if !ok {
		return time.Time{}, status.Errorf(codes.InvalidArgument, "date %q is not YYYY-MM-DD", raw)
	}
	return day, nil
}

func identityAndDate(req *structpb.Struct) (page.Identity, time.Time, error) {
	id, err := identityFrom(req, "")
	if err != nil {
		return page.Identity{}, time.Time{}, err
	}
	at, err := dateFrom(req)
	if err != nil {
		return page.Identity{}, time.Time{}, err
	}
	return id, at, nil
}

func identityFields(id page.Identity) map[string]any {
	return map[string]any{
		"namespace": id.Namespace,
		"title":     id.Name,
		"page_id":   id.PageID,
	}
}

func reply(fields map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode reply: %v", err)
	}
	return out, nil
}

func storeError(op string, err error) error {
	if errors.Is(err, page.ErrStoreUnavailable) {
		return status.Errorf(codes.Unavailable, "%s: %v", op, err)
	}
	return status.Errorf(codes.Internal, "%s: %v", op, err)
}
